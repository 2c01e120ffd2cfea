// Copyright 2026 © The Reportcard Authors
// SPDX-License-Identifier: Apache-2.0

// Package kvstore provides small string key-value stores used to persist
// client state between runs.
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/jllopis/reportcard/pkg/config"
	"github.com/jllopis/reportcard/pkg/errors"
)

// Store is a string key-value slot store.
type Store interface {
	// Get returns the value stored at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Open builds the store selected by cfg.Driver. Driver "none" returns a nil
// Store and a nil closer: callers treat that as "no persistent storage".
func Open(cfg config.StorageConfig) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "none":
		return nil, noop, nil
	case "memory":
		return NewMemory(), noop, nil
	case "", "file":
		fs, err := NewFile(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, noop, nil
	case "sqlite":
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "reportcard.db")
		}
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, nil, errors.New(errors.CodeInternal, "open sqlite", err).WithContext("path", path)
		}
		s, err := NewSQLite(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	default:
		return nil, nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown storage driver %q", cfg.Driver), nil)
	}
}
