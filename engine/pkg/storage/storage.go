// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage holds the byte streams backing file edges and the
// external inputs and outputs of an application.
package storage

import (
	"context"
	"io"

	"github.com/dflow-engine/dflow/pkg/errors"
)

// Storage types
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Storage opens and creates streams by slash separated path.
type Storage interface {
	// Open returns a reader of an existing stream.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Create returns a writer of a new stream, replacing any stream
	// with the same path. The stream is visible to Open once the writer
	// is closed successfully.
	Create(ctx context.Context, path string) (Writer, error)
}

// Writer is the write end of a stream being created.
type Writer interface {
	io.WriteCloser
	// Discard drops what was written. The stream is never published and
	// any previous stream with the same path is left in place.
	Discard() error
}

// LocalConfig configures the local directory backend.
type LocalConfig struct {
	BaseDir string `toml:"base-dir" json:"base-dir"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket string `toml:"bucket" json:"bucket"`
	Prefix string `toml:"prefix" json:"prefix"`
	Region string `toml:"region" json:"region"`
	// Endpoint overrides the service endpoint, e.g. a MinIO server.
	Endpoint        string `toml:"endpoint" json:"endpoint"`
	AccessKeyID     string `toml:"access-key-id" json:"access-key-id"`
	SecretAccessKey string `toml:"secret-access-key" json:"-"`
}

// Config selects and configures a storage backend.
type Config struct {
	Type  string      `toml:"type" json:"type"`
	Local LocalConfig `toml:"local" json:"local"`
	S3    S3Config    `toml:"s3" json:"s3"`
}

// DefaultConfig returns a local storage rooted in the working directory.
func DefaultConfig() Config {
	return Config{
		Type:  TypeLocal,
		Local: LocalConfig{BaseDir: "./data"},
	}
}

// New creates the storage described by cfg.
func New(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Type {
	case "", TypeLocal:
		return NewLocalStorage(cfg.Local.BaseDir)
	case TypeS3:
		return NewS3Storage(ctx, &cfg.S3)
	default:
		return nil, errors.ErrStorageUnsupported.GenWithStackByArgs(cfg.Type)
	}
}
