package models

// Frame is one accepted image of a job
type Frame struct {
	// Name is the file name as uploaded
	Name string `json:"name"`
	// StoredName is the sanitized name used inside the workspace
	StoredName string `json:"stored_name"`
	// Seq is the zero-based submission order across all chunks
	Seq  int    `json:"seq"`
	Path string `json:"path"`
	Size int64  `json:"size"`

	Key    int64 `json:"key"`
	HasKey bool  `json:"has_key"`

	// Position is the canonical sequence index, valid after ordering
	Position int `json:"position"`
	Width    int `json:"width,omitempty"`
	Height   int `json:"height,omitempty"`
}

// Output describes a produced video ready for download
type Output struct {
	JobID        string       `json:"job_id"`
	Path         string       `json:"path"`
	Format       OutputFormat `json:"format"`
	ContentType  string       `json:"content_type"`
	DownloadName string       `json:"download_name"`
	Size         int64        `json:"size"`
	Frames       int          `json:"frames"`
}
