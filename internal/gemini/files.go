// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gemini

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/retrolab/basicscan/internal/httputil"
	"github.com/retrolab/basicscan/pkg/types"
)

// File states reported by the Files API.
const (
	stateProcessing = "PROCESSING"
	stateActive     = "ACTIVE"
	stateFailed     = "FAILED"
)

// fileInfo is the Files API resource representation.
type fileInfo struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

type uploadResponse struct {
	File fileInfo `json:"file"`
}

// mimeForPath maps an artifact extension to the upload content type.
func mimeForPath(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// Upload sends the artifact at path to the Files API and waits until the
// remote file leaves the PROCESSING state. The returned handle carries the
// content fingerprint; the Page field is left for the caller to fill.
func (c *Client) Upload(ctx context.Context, path string) (types.FileHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.FileHandle{}, fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/v1beta/files", bytes.NewReader(data))
	if err != nil {
		return types.FileHandle{}, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("Content-Type", mimeForPath(path))

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, c.maxRetries)
	if err != nil {
		return types.FileHandle{}, fmt.Errorf("uploading %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return types.FileHandle{}, fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.FileHandle{}, decodeError("uploading "+path, resp.StatusCode, body)
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return types.FileHandle{}, fmt.Errorf("parsing upload response: %w", err)
	}
	if ur.File.Name == "" {
		return types.FileHandle{}, fmt.Errorf("upload response for %s carries no file name", path)
	}

	info, err := c.waitActive(ctx, ur.File)
	if err != nil {
		return types.FileHandle{}, err
	}

	return types.FileHandle{
		ID:         info.Name,
		URI:        info.URI,
		SHA256:     hex.EncodeToString(sum[:]),
		UploadedAt: time.Now().UTC(),
	}, nil
}

// waitActive polls the file resource until it is ACTIVE. A FAILED state
// is an upload error; the handle is never returned to the caller.
func (c *Client) waitActive(ctx context.Context, info fileInfo) (fileInfo, error) {
	for info.State == stateProcessing {
		select {
		case <-ctx.Done():
			return fileInfo{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		updated, err := c.getFile(ctx, info.Name)
		if err != nil {
			return fileInfo{}, err
		}
		info = updated
	}

	if info.State == stateFailed {
		return fileInfo{}, fmt.Errorf("remote processing failed for %s", info.Name)
	}
	return info, nil
}

// getFile fetches the current file resource state.
func (c *Client) getFile(ctx context.Context, name string) (fileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/"+name, nil)
	if err != nil {
		return fileInfo{}, fmt.Errorf("creating file status request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, c.maxRetries)
	if err != nil {
		return fileInfo{}, fmt.Errorf("checking %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return fileInfo{}, fmt.Errorf("reading file status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fileInfo{}, decodeError("checking "+name, resp.StatusCode, body)
	}

	var info fileInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fileInfo{}, fmt.Errorf("parsing file status: %w", err)
	}
	return info, nil
}

// Delete removes the remote file behind handle.
func (c *Client) Delete(ctx context.Context, handle types.FileHandle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1beta/"+handle.ID, nil)
	if err != nil {
		return fmt.Errorf("creating delete request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, c.maxRetries)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", handle.ID, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("reading delete response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return decodeError("deleting "+handle.ID, resp.StatusCode, body)
	}
	return nil
}
