package model

import "time"

// Artifact is a produced image file. Artifacts are owned by the dedup cache
// once written; the run manifest references them without owning them.
type Artifact struct {
	Fingerprint     string    `json:"fingerprint"`
	FilePath        string    `json:"file_path"`
	PublicURL       string    `json:"public_url,omitempty"`
	Cost            float64   `json:"cost"`
	GenerationModel string    `json:"generation_model"`
	CreatedAt       time.Time `json:"created_at"`
}
