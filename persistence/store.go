// Package persistence provides snapshot store implementations for the
// workflow engine's crash-recovery hooks.
//
// Supported backends:
// - Memory: For development and testing (default)
// - File: For single-node production deployments
// - Redis: For deployments with shared infrastructure
//
// All backends serialize the same workflow.Snapshot JSON document; a
// snapshot written by one backend reloads bit-exact from another.
package persistence

import (
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/workflow"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// RedisStoreConfig configures the Redis backend.
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig is the base configuration for all store implementations.
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Path is the snapshot file location for the file backend
	Path string `json:"path" yaml:"path"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// NewSnapshotStore creates a snapshot store for the configured backend.
// An empty type defaults to the in-memory store.
func NewSnapshotStore(config StoreConfig, logger *zap.Logger) (workflow.SnapshotStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(config.Path)
	case StoreTypeRedis:
		return NewRedisStore(config, logger)
	default:
		return nil, ErrInvalidInput
	}
}
