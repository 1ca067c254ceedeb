package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dancesync/dancesync-agent/internal/compare"
)

const (
	FormatEDL = "edl"
	FormatCSV = "csv"

	DefaultThreshold = 0.5
	DefaultPaddingMs = 1000
	DefaultMaxClips  = 20
	maxPaddingMs     = 60000
)

var (
	ErrInvalidRequest = errors.New("invalid export request")
	// ErrNothingToExport means no beat fell below the review threshold.
	ErrNothingToExport = errors.New("no beats below threshold")
)

type ExportRequest struct {
	Format      string   `json:"format"`
	ProjectName string   `json:"project_name,omitempty"`
	OutputDir   string   `json:"output_dir,omitempty"`
	Threshold   *float64 `json:"threshold,omitempty"`
	PaddingMs   *int     `json:"padding_ms,omitempty"`
	MaxClips    int      `json:"max_clips,omitempty"`
}

// Normalize fills defaults and rejects out-of-range values.
func (r *ExportRequest) Normalize() error {
	r.Format = strings.ToLower(strings.TrimSpace(r.Format))
	if r.Format == "" {
		r.Format = FormatEDL
	}
	if r.Format != FormatEDL && r.Format != FormatCSV {
		return fmt.Errorf("%w: format must be edl or csv", ErrInvalidRequest)
	}
	if r.Threshold == nil {
		t := DefaultThreshold
		r.Threshold = &t
	}
	if *r.Threshold < 0 || *r.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0, 1]", ErrInvalidRequest)
	}
	if r.PaddingMs == nil {
		p := DefaultPaddingMs
		r.PaddingMs = &p
	}
	if *r.PaddingMs <= 0 || *r.PaddingMs > maxPaddingMs {
		return fmt.Errorf("%w: padding_ms must be between 1 and %d", ErrInvalidRequest, maxPaddingMs)
	}
	if r.MaxClips < 0 {
		return fmt.Errorf("%w: max_clips must not be negative", ErrInvalidRequest)
	}
	if r.MaxClips == 0 {
		r.MaxClips = DefaultMaxClips
	}
	return nil
}

// Report is a stored comparison resolved for export.
type Report struct {
	ComparisonID string
	FPS          int
	MediaPath    string // user video; may be empty for CSV exports
	Results      []compare.BeatScore
}

// ReviewClip is a window of the user video around a weak beat.
type ReviewClip struct {
	ClipName   string
	MediaPath  string
	Beat       int
	Similarity float64
	StartMs    int
	EndMs      int
}

type ExportResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ClipCount  int    `json:"clip_count,omitempty"`
	RowCount   int    `json:"row_count,omitempty"`
}
