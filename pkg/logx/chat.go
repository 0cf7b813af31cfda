package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	// Below Telegram's 4096-character message limit.
	chatMaxLen      = 3500
	chatMaxFieldLen = 600
	chatMaxStackLen = 900
)

// ChatTarget addresses a chat and optional forum thread.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Sender delivers plain-text log lines to a chat. Implementations must honor ctx.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string) error
}

// chatSink is a zerolog.LevelWriter that forwards events at or above a level to a
// Sender. Writes never block: over the rate limit or with a full queue, lines are dropped.
type chatSink struct {
	sender Sender
	queue  chan chatLine

	mu       sync.Mutex
	to       ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

type chatLine struct {
	to   ChatTarget
	text string
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan chatLine, chatQueueSize)}
}

// configure updates target, level and rate, and starts the worker the first time the
// sink is enabled.
func (c *chatSink) configure(cfg TelegramConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.RatePerSec)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if !cfg.Enabled || c.cancel != nil {
		return
	}
	if cfg.ChatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but logging.telegram.chat_id is not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel, c.done = cancel, make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *chatSink) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-c.queue:
			if c.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = c.sender.SendText(sctx, line.to, line.text)
			cancel()
		}
	}
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, minLevel, lim := c.to, c.minLevel, c.limiter
	c.mu.Unlock()

	if c.sender == nil || to.ChatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if text := formatChatLine(p); text != "" {
		select {
		case c.queue <- chatLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatChatLine renders a zerolog JSON line as "[LEVEL] message" followed by one
// "- key=value" line per field, keys sorted. Non-JSON input is sent trimmed.
func formatChatLine(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n" + clip(v, chatMaxStackLen))
			continue
		}
		b.WriteString("\n- " + k + "=" + clip(v, chatMaxFieldLen))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
