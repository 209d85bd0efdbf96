// Package database holds timeout conventions shared by the storage writers.
package database

import (
	"context"
	"time"
)

const (
	// DefaultWriteTimeout bounds a single record insert or document index.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPingTimeout bounds startup connectivity checks.
	DefaultPingTimeout = 5 * time.Second

	// DefaultMigrateTimeout bounds schema migrations at startup.
	DefaultMigrateTimeout = 30 * time.Second
)

// WriteContext derives a context for a single write. The parent deadline
// still applies when it is sooner.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// PingContext derives a context for a connectivity check.
func PingContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultPingTimeout)
}

// MigrateContext derives a context for running migrations.
func MigrateContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultMigrateTimeout)
}
