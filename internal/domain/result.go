package domain

// ResolvedImage pairs a product's external code with the image URL selected
// for it. The external code is the output filename stem.
type ResolvedImage struct {
	ExternalCode string `json:"external_code"`
	URL          string `json:"url"`
}

// DownloadResult is the outcome of one image download. Skipped marks items
// that were never fetched because the file already existed.
type DownloadResult struct {
	ExternalCode string `json:"external_code"`
	BytesWritten int64  `json:"bytes_written,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (r DownloadResult) Succeeded() bool {
	return r.Error == ""
}

// RunSummary aggregates the per-item outcomes of one run.
type RunSummary struct {
	Total     int `json:"total"`     // Resolved images handed to the dispatcher
	Succeeded int `json:"succeeded"` // Files written
	Failed    int `json:"failed"`    // Download or write failures
	Skipped   int `json:"skipped"`   // Records dropped before dispatch plus pre-existing files
}
