// Package storage provides an optional audit trail of admin actions.
//
// It never holds bot state: groups, links, and intervals live in the
// in-memory registry and are lost on restart. The audit log is an
// operator-facing record only.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"linkbot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "" or "none": disabled
//   - "sqlite": SQLite database file
type Config struct {
	Driver string
	Path   string
}

// AuditEntry records one admin action. Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	ChatID  int64
	Action  string // "setlink", "defaultlink", "interval"
	Arg     string
	OK      bool
}

// Store is the minimal persistence API used by the dispatcher.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
