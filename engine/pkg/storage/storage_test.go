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
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dflow-engine/dflow/pkg/errors"
	"github.com/stretchr/testify/require"
)

func writeStream(t *testing.T, s Storage, path string, data string) {
	w, err := s.Create(context.Background(), path)
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readStream(t *testing.T, s Storage, path string) string {
	r, err := s.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStorage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(context.Background(), &Config{Type: TypeLocal, Local: LocalConfig{BaseDir: dir}})
	require.NoError(t, err)

	writeStream(t, s, "app/a-b", "hello")
	require.Equal(t, "hello", readStream(t, s, "app/a-b"))
	_, err = os.Stat(filepath.Join(dir, "app", "a-b"))
	require.NoError(t, err)

	// Create replaces an existing stream.
	writeStream(t, s, "app/a-b", "world")
	require.Equal(t, "world", readStream(t, s, "app/a-b"))

	// An unfinished stream is not visible.
	w, err := s.Create(context.Background(), "app/b-c")
	require.NoError(t, err)
	_, err = s.Open(context.Background(), "app/b-c")
	require.True(t, errors.IsCode(err, errors.ErrStorageOpen), "%v", err)
	require.NoError(t, w.Close())

	// A discarded stream leaves the previous one and no temporary file.
	w, err = s.Create(context.Background(), "app/a-b")
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	require.NoError(t, w.Discard())
	require.Equal(t, "world", readStream(t, s, "app/a-b"))
	entries, err := os.ReadDir(filepath.Join(dir, "app"))
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".tmp-")
	}

	// Paths cannot escape the base directory.
	writeStream(t, s, "../../escape", "x")
	_, err = os.Stat(filepath.Join(dir, "escape"))
	require.NoError(t, err)
}

func TestUnsupportedStorage(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{Type: "ftp"})
	require.True(t, errors.IsCode(err, errors.ErrStorageUnsupported), "%v", err)
}

type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (c *mockS3Client) GetObject(
	_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (c *mockS3Client) PutObject(
	_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Storage(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{objects: make(map[string][]byte)}
	s := newS3StorageWithClient(client, "bucket", "/dflow/")

	writeStream(t, s, "app/a-b", "payload")
	require.Contains(t, client.objects, "bucket/dflow/app/a-b")
	require.Equal(t, "payload", readStream(t, s, "app/a-b"))

	_, err := s.Open(context.Background(), "app/missing")
	require.True(t, errors.IsCode(err, errors.ErrStorageOpen), "%v", err)

	w, err := s.Create(context.Background(), "app/discarded")
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	require.NoError(t, w.Discard())
	require.NotContains(t, client.objects, "bucket/dflow/app/discarded")

	_, err = NewS3Storage(context.Background(), &S3Config{})
	require.True(t, errors.IsCode(err, errors.ErrInvalidArgument), "%v", err)
}
