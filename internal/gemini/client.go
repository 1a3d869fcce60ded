// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gemini is a thin client for the Gemini API surfaces the pipeline
// needs: the Files API (upload, poll, delete) and generateContent with
// file parts. Rate-limit responses are retried via httputil.
package gemini

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/retrolab/basicscan/pkg/types"
)

const (
	defaultBaseURL      = "https://generativelanguage.googleapis.com"
	defaultTimeout      = 120 * time.Second
	defaultPollInterval = 1 * time.Second

	// maxResponseBytes caps how much of an API response body is read.
	maxResponseBytes = 4 << 20
)

// Client calls the Gemini API. The zero value is not usable; construct
// with NewClient.
type Client struct {
	apiKey       string
	model        string
	maxRetries   int
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient returns a client configured from cfg.
func NewClient(cfg types.AIConfig) *Client {
	return &Client{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		maxRetries:   cfg.MaxRetries,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		pollInterval: defaultPollInterval,
	}
}

// apiError is the error envelope Gemini returns on non-2xx responses.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeError turns a non-2xx response body into a descriptive error.
func decodeError(op string, status int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		return fmt.Errorf("%s: HTTP %d %s: %s", op, status, ae.Error.Status, ae.Error.Message)
	}
	return fmt.Errorf("%s: HTTP %d", op, status)
}

// readBody reads a capped response body.
func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}
