package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryEntry records one delivery attempt of one message to one sink.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At        time.Time
	MessageID int64
	Title     string
	Priority  int
	Sink      string
	OK        bool
	Error     string
	TookMS    int64
}
