// Package telegram delivers log lines to a Telegram chat through a bot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cadence/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// textLimit stays below Telegram's 4096-character message cap.
const textLimit = 4000

type Config struct {
	Token string
	// HTTPTimeout bounds a single Bot API call. Default 10s.
	HTTPTimeout time.Duration
	// URL overrides the Bot API endpoint (tests, local Bot API servers).
	URL string
}

// Sender implements logx.Sender. It only sends; it never polls for updates.
type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, log: log}, nil
}

// SendText sends text to the target, split into several messages when it is too long.
// Delivery problems are returned, never logged, so the log sink cannot feed on itself.
func (s *Sender) SendText(ctx context.Context, to logx.ChatTarget, text string) error {
	if to.ChatID == 0 {
		return errors.New("telegram: chat id is not set")
	}
	chat := &tele.Chat{ID: to.ChatID}
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: to.ThreadID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline boundaries
// that do not produce tiny chunks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
