package pipeline

import (
	"encoding/json"
)

// Per-kind job payload schemas. Parsing failures and missing required fields
// are InvalidPayload, which dead-letters the job on first encounter.

type IngestPayload struct {
	ProjectID string `json:"projectId"`
	SourceURL string `json:"sourceUrl"`
}

type TranscribePayload struct {
	ProjectID string `json:"projectId"`
	SourceExt string `json:"sourceExt,omitempty"`
}

type HighlightPayload struct {
	ProjectID string   `json:"projectId"`
	Keywords  []string `json:"keywords"`
	MinGapSec float64  `json:"minGapSec"`
	MaxClips  *float64 `json:"maxClips,omitempty"` // override; fractional values are floored
}

type RenderPayload struct {
	ClipID string `json:"clipId"`
}

type ThumbnailPayload struct {
	ClipID string   `json:"clipId"`
	AtSec  *float64 `json:"atSec,omitempty"`
}

type PublishTikTokPayload struct {
	ClipID             string `json:"clipId"`
	ConnectedAccountID string `json:"connectedAccountId"`
	Caption            string `json:"caption,omitempty"`
	PrivacyLevel       string `json:"privacyLevel,omitempty"`
	ExperimentID       string `json:"experimentId,omitempty"`
	VariantID          string `json:"variantId,omitempty"`
}

type PublishYouTubePayload struct {
	ClipID             string   `json:"clipId"`
	ConnectedAccountID string   `json:"connectedAccountId"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Visibility         string   `json:"visibility,omitempty"`
	ExperimentID       string   `json:"experimentId,omitempty"`
	VariantID          string   `json:"variantId,omitempty"`
}

type CleanupPayload struct {
	WorkspaceID   string `json:"workspaceId,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	RetentionDays *int   `json:"retentionDays,omitempty"`
}

// parsePayload unmarshals raw into dst, tagging failures as InvalidPayload.
func parsePayload(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return InvalidPayload("empty payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return InvalidPayload("malformed payload: %v", err)
	}
	return nil
}

func ParseIngestPayload(raw json.RawMessage) (*IngestPayload, error) {
	var p IngestPayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ProjectID == "" {
		return nil, InvalidPayload("ingest payload missing projectId")
	}
	if p.SourceURL == "" {
		return nil, InvalidPayload("ingest payload missing sourceUrl")
	}
	return &p, nil
}

func ParseTranscribePayload(raw json.RawMessage) (*TranscribePayload, error) {
	var p TranscribePayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ProjectID == "" {
		return nil, InvalidPayload("transcribe payload missing projectId")
	}
	return &p, nil
}

func ParseHighlightPayload(raw json.RawMessage) (*HighlightPayload, error) {
	var p HighlightPayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ProjectID == "" {
		return nil, InvalidPayload("highlight payload missing projectId")
	}
	if p.MinGapSec < 0 {
		return nil, InvalidPayload("highlight payload minGapSec must be >= 0, got %v", p.MinGapSec)
	}
	return &p, nil
}

func ParseRenderPayload(raw json.RawMessage) (*RenderPayload, error) {
	var p RenderPayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ClipID == "" {
		return nil, InvalidPayload("render payload missing clipId")
	}
	return &p, nil
}

func ParseThumbnailPayload(raw json.RawMessage) (*ThumbnailPayload, error) {
	var p ThumbnailPayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ClipID == "" {
		return nil, InvalidPayload("thumbnail payload missing clipId")
	}
	if p.AtSec != nil && *p.AtSec < 0 {
		return nil, InvalidPayload("thumbnail payload atSec must be >= 0")
	}
	return &p, nil
}

func ParsePublishTikTokPayload(raw json.RawMessage) (*PublishTikTokPayload, error) {
	var p PublishTikTokPayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ClipID == "" || p.ConnectedAccountID == "" {
		return nil, InvalidPayload("tiktok publish payload requires clipId and connectedAccountId")
	}
	return &p, nil
}

func ParsePublishYouTubePayload(raw json.RawMessage) (*PublishYouTubePayload, error) {
	var p PublishYouTubePayload
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ClipID == "" || p.ConnectedAccountID == "" {
		return nil, InvalidPayload("youtube publish payload requires clipId and connectedAccountId")
	}
	return &p, nil
}

func ParseCleanupPayload(raw json.RawMessage) (*CleanupPayload, error) {
	var p CleanupPayload
	if len(raw) == 0 {
		return &p, nil // all fields optional
	}
	if err := parsePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.RetentionDays != nil && *p.RetentionDays < 0 {
		return nil, InvalidPayload("cleanup payload retentionDays must be >= 0")
	}
	return &p, nil
}
