package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultMaxRecords bounds retained history when Config.MaxRecords is 0.
const DefaultMaxRecords = 5000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxRecords  int
}

func (c Config) maxRecords() int {
	if c.MaxRecords > 0 {
		return c.MaxRecords
	}
	return DefaultMaxRecords
}

// RunRecord is one finished task execution.
// Keep it compact and schema-stable.
type RunRecord struct {
	Job       string        `json:"job"`
	Scheduled time.Time     `json:"scheduled"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	// Error is empty for successful runs.
	Error string `json:"error,omitempty"`
}

func (r RunRecord) OK() bool { return r.Error == "" }
