// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ListingResult holds the outcome of extracting one program's source.
// Every run produces exactly one result per input program, in input order.
type ListingResult struct {
	// Program is the descriptor this result belongs to.
	Program Program `json:"program" yaml:"program"`

	// Source is the extracted source text. Empty when the extraction failed.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Error records the failure for this program. Empty on success.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether this program's extraction failed.
func (r ListingResult) Failed() bool {
	return r.Error != ""
}

// ReleaseOutcome records the cleanup result for one uploaded page.
type ReleaseOutcome struct {
	// Page is the scan page whose handle was released.
	Page int `json:"page" yaml:"page"`

	// HandleID is the remote resource name that was deleted.
	HandleID string `json:"handle_id" yaml:"handle_id"`

	// Error records a delete failure. The handle is dropped from the cache
	// either way; a non-empty error means the remote file may have leaked.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CleanupReport summarizes the release sweep at the end of a run.
type CleanupReport struct {
	Outcomes []ReleaseOutcome `json:"outcomes" yaml:"outcomes"`
}

// Released counts pages whose remote handle was deleted successfully.
func (c CleanupReport) Released() int {
	n := 0
	for _, o := range c.Outcomes {
		if o.Error == "" {
			n++
		}
	}
	return n
}

// Leaked returns the pages whose delete failed.
func (c CleanupReport) Leaked() []int {
	var pages []int
	for _, o := range c.Outcomes {
		if o.Error != "" {
			pages = append(pages, o.Page)
		}
	}
	return pages
}

// RunReport is the YAML artifact written after an extraction run: one entry
// per program plus the cleanup sweep.
type RunReport struct {
	Results []ListingResult `json:"results" yaml:"results"`
	Cleanup CleanupReport   `json:"cleanup" yaml:"cleanup"`
}
