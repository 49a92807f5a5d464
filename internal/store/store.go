// Package store provides the durable message.Store backends: BadgerDB
// (the default) and SQLite.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

// Supported values for the STORE_DRIVER setting.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// MemoryPath opens either backend without touching the filesystem.
const MemoryPath = ":memory:"

// Open returns the store selected by driver, persisted under path.
func Open(driver, path string, log *slog.Logger) (message.Store, error) {
	switch driver {
	case DriverBadger, "":
		s, err := OpenBadger(path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// clock hands out strictly increasing UTC timestamps so that messages
// created through one store never share a created_at value.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
