// Package export writes comparison reports for review outside the agent: an
// EDL of clips around the weakest beats, or a per-beat CSV.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Write renders rep in the requested format into the output directory.
// defaultDir is used when the request names none.
func Write(req ExportRequest, rep Report, defaultDir string) (*ExportResponse, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	dir, err := ResolveOutputDir(req.OutputDir, defaultDir)
	if err != nil {
		return nil, err
	}

	name := SanitizeName(req.ProjectName, 120)
	if name == "" {
		name = "dancesync_" + shortID(rep.ComparisonID)
	}

	var buf bytes.Buffer
	resp := &ExportResponse{Status: "ok", Format: req.Format}
	switch req.Format {
	case FormatCSV:
		if err := WriteReportCSV(&buf, rep.Results, *req.Threshold); err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
		resp.RowCount = len(rep.Results)
	default:
		if rep.MediaPath == "" {
			return nil, fmt.Errorf("%w: comparison has no user video", ErrInvalidRequest)
		}
		clips := SelectReviewClips(rep.Results, *req.Threshold, *req.PaddingMs, req.MaxClips, rep.MediaPath)
		if len(clips) == 0 {
			return nil, ErrNothingToExport
		}
		buf.WriteString(GenerateEDL(clips, name, float64(rep.FPS)))
		resp.ClipCount = len(clips)
	}

	resp.OutputPath = filepath.Join(dir, name+"."+req.Format)
	if err := os.WriteFile(resp.OutputPath, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write export file: %w", err)
	}
	return resp, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "export"
	}
	return id
}
