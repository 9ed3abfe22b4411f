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

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// LocalStorage keeps streams as files under a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates the base directory if needed.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "."
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.WrapError(errors.ErrStorageCreate, err, abs)
	}
	return &LocalStorage{baseDir: abs}, nil
}

func (s *LocalStorage) absPath(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash("/" + path))
	if cleaned == string(filepath.Separator) || strings.Contains(path, "\x00") {
		return "", errors.ErrInvalidArgument.GenWithStackByArgs("invalid storage path " + path)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

// Open implements Storage.
func (s *LocalStorage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	abs, err := s.absPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, errors.WrapError(errors.ErrStorageOpen, err, path)
	}
	return f, nil
}

// Create implements Storage. Data is written to a temporary file which is
// renamed to its final path on Close.
func (s *LocalStorage) Create(_ context.Context, path string) (Writer, error) {
	abs, err := s.absPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, errors.WrapError(errors.ErrStorageCreate, err, path)
	}
	f, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".tmp-*")
	if err != nil {
		return nil, errors.WrapError(errors.ErrStorageCreate, err, path)
	}
	return &localWriter{File: f, target: abs, path: path}, nil
}

type localWriter struct {
	*os.File
	target string
	path   string
}

func (w *localWriter) Close() error {
	err := multierr.Append(w.File.Sync(), w.File.Close())
	if err == nil {
		err = os.Rename(w.File.Name(), w.target)
	}
	if err != nil {
		_ = os.Remove(w.File.Name())
		return errors.WrapError(errors.ErrStorageCreate, err, w.path)
	}
	log.Debug("local stream created", zap.String("path", w.target))
	return nil
}

func (w *localWriter) Discard() error {
	err := multierr.Append(w.File.Close(), os.Remove(w.File.Name()))
	if err != nil {
		return errors.WrapError(errors.ErrStorageCreate, err, w.path)
	}
	log.Debug("local stream discarded", zap.String("path", w.target))
	return nil
}
