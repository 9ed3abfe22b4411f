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

package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pingcap/errors"
)

// Client wraps an HTTP client used for the JSON APIs of the engine.
type Client struct {
	http.Client
}

// NewClient creates an HTTP client. A zero timeout means no timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		Client: http.Client{Timeout: timeout},
	}
}

// StatusError is returned when the server answers with a non 2xx code.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("[%d] %s", e.StatusCode, e.Body)
}

// DoRequest sends an request and returns an HTTP response content.
func (c *Client) DoRequest(
	ctx context.Context, url, method string, headers http.Header, body io.Reader,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Trace(err)
	}

	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: content}
	}
	return content, nil
}

// DoJSON sends in encoded as JSON, if not nil, and decodes the response
// into out, if not nil.
func (c *Client) DoJSON(ctx context.Context, url, method string, in, out interface{}) error {
	var (
		body    io.Reader
		headers http.Header
	)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Trace(err)
		}
		body = bytes.NewReader(data)
		headers = http.Header{"Content-Type": []string{"application/json"}}
	}
	content, err := c.DoRequest(ctx, url, method, headers, body)
	if err != nil {
		return err
	}
	if out == nil || len(content) == 0 {
		return nil
	}
	return errors.Trace(json.Unmarshal(content, out))
}
