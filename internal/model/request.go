// Package model defines the core types shared across the asset generation
// pipeline: requests, prompt candidates, artifacts, runs, approval batches,
// and the events published to observers.
package model

import "strings"

// AssetKind classifies what kind of visual asset a request produces.
type AssetKind string

const (
	AssetKindIcon    AssetKind = "icon"
	AssetKindCover   AssetKind = "cover"
	AssetKindTexture AssetKind = "texture"
	AssetKindHeader  AssetKind = "header"
)

// Valid reports whether k is one of the known asset kinds.
func (k AssetKind) Valid() bool {
	switch k {
	case AssetKindIcon, AssetKindCover, AssetKindTexture, AssetKindHeader:
		return true
	}
	return false
}

// ParseAssetKind normalizes a user-supplied kind string.
func ParseAssetKind(s string) (AssetKind, bool) {
	k := AssetKind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Priority is a scheduling hint for a request. Higher runs earlier.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// GenerationRequest identifies one required artifact. Requests are immutable
// once created; they are produced by a discovery source and consumed exactly
// once by the pipeline (or served from the dedup cache).
type GenerationRequest struct {
	AssetID         string    `json:"asset_id" yaml:"asset_id"`
	Kind            AssetKind `json:"asset_kind" yaml:"asset_kind"`
	SeedDescription string    `json:"seed_description" yaml:"seed_description"`
	Priority        Priority  `json:"priority" yaml:"priority"`
	NotionPageID    string    `json:"notion_page_id,omitempty" yaml:"notion_page_id,omitempty"`
}
