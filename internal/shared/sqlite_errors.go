// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"strings"
	"time"
)

// IsSQLiteConflict reports whether err is a SQLite concurrency failure
// (SQLITE_BUSY or "database is locked"). The driver reports these as plain
// strings, so matching on the message is the only option.
func IsSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetrySQLite runs fn up to attempts times while it keeps failing with a
// SQLite concurrency error, backing off exponentially from baseDelay.
// Other errors return immediately.
func RetrySQLite(attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsSQLiteConflict(err) || i == attempts-1 {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return err
}
