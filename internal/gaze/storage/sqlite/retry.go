package sqlite

import (
	"fmt"
	"strings"
	"time"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is a SQLITE_BUSY / locked-database
// error. The driver surfaces these as formatted strings, so match on text.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while it reports
// SQLITE_BUSY. WAL mode makes writer collisions short-lived, so a handful
// of attempts is enough. Other errors return immediately.
func retryOnBusy(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; attempt < busyMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
	}
	return fmt.Errorf("database still busy after %d attempts: %w", busyMaxAttempts, err)
}
