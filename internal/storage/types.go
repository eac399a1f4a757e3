package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is the durable form of the registry. Field names match the
// settings file format used by earlier deployments.
type Snapshot struct {
	Groups []int64 `json:"groups"`
	Staff  []int64 `json:"staff"`
}

// Backend loads and overwrites the registry snapshot.
//
// Load reports found=false when the storage is absent or empty; the caller
// then starts from an empty registry.
type Backend interface {
	Load(ctx context.Context) (snap Snapshot, found bool, err error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}
