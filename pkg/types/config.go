package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "basicscan/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// FetchConfig holds settings for the page fetch stage.
type FetchConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the archive URL prefix for page images; the page number
	// and ".gif" are appended (e.g. ".../pages/page" + "17" + ".gif").
	BaseURL string `json:"base_url" yaml:"base_url"`

	// DownloadDelay is the minimum spacing between consecutive downloads (default 1s).
	DownloadDelay time.Duration `json:"download_delay" yaml:"download_delay"`

	// ScansDir is the base directory for page scans (contains raw/, png/).
	ScansDir string `json:"scans_dir" yaml:"scans_dir"`
}

// AIConfig holds shared settings for stages that call the Gemini API.
type AIConfig struct {
	// Model is the Gemini model identifier (e.g. "gemini-2.5-flash").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the Gemini API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed AI calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// LocateConfig holds settings for the program location stage.
type LocateConfig struct {
	AIConfig `yaml:",inline"`

	// ScansDir is the base directory for page scans (contains png/).
	ScansDir string `json:"scans_dir" yaml:"scans_dir"`

	// ListingsDir is the base directory for listings output (contains programs.json, src/).
	ListingsDir string `json:"listings_dir" yaml:"listings_dir"`
}

// ExtractionConfig holds settings for the source extraction stage.
type ExtractionConfig struct {
	AIConfig `yaml:",inline"`

	// ScansDir is the base directory for page scans (contains png/).
	ScansDir string `json:"scans_dir" yaml:"scans_dir"`

	// ListingsDir is the base directory for listings output (contains src/, report.yaml).
	ListingsDir string `json:"listings_dir" yaml:"listings_dir"`

	// UploadParallelism is the number of page uploads allowed in flight
	// at once. Values below 1 mean sequential uploads.
	UploadParallelism int `json:"upload_parallelism" yaml:"upload_parallelism"`
}

// CatalogConfig holds settings for the listing catalog stage.
type CatalogConfig struct {
	// CatalogDir is the base directory for the catalog (contains index/).
	CatalogDir string `json:"catalog_dir" yaml:"catalog_dir"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Fetch      FetchConfig      `json:"fetch" yaml:"fetch"`
	Locate     LocateConfig     `json:"locate" yaml:"locate"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Catalog    CatalogConfig    `json:"catalog" yaml:"catalog"`
}
