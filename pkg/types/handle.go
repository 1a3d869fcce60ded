// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// FileHandle is an opaque reference to one page image held by the remote
// AI service. Handles are owned exclusively by the upload cache from the
// moment the upload returns until the cache releases them; nothing else
// may delete or retain one.
type FileHandle struct {
	// ID is the remote resource name (e.g. "files/abc123").
	ID string `json:"id" yaml:"id"`

	// URI is the reference passed to extraction calls.
	URI string `json:"uri" yaml:"uri"`

	// Page is the scan page this handle was uploaded from.
	Page int `json:"page" yaml:"page"`

	// SHA256 is the hex content fingerprint of the uploaded artifact.
	SHA256 string `json:"sha256" yaml:"sha256"`

	// UploadedAt records when the upload completed.
	UploadedAt time.Time `json:"uploaded_at" yaml:"uploaded_at"`
}
