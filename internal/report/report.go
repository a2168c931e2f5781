// Package report persists imaging run summaries as JSON artifacts, one file
// per operation, written atomically so a crash never leaves a torn report.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"usbctl/internal/rawcopy"
)

// Report is the durable record of one imaging or verification run.
type Report struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Source          string            `json:"source"`
	Destination     string            `json:"destination,omitempty"`
	BytesWritten    int64             `json:"bytes_written"`
	BlockSize       int64             `json:"block_size"`
	BlockCount      int64             `json:"block_count"`
	ErrorBlocks     int64             `json:"error_blocks,omitempty"`
	Digests         map[string]string `json:"digests,omitempty"`
	DurationSeconds float64           `json:"duration_seconds"`
}

// New builds a report from a finished copy.
func New(source, dest string, res rawcopy.Result) Report {
	return Report{
		ID:              uuid.New().String(),
		Timestamp:       time.Now().UTC(),
		Source:          source,
		Destination:     dest,
		BytesWritten:    res.BytesWritten,
		BlockSize:       res.BlockSize,
		BlockCount:      res.BlockCount,
		ErrorBlocks:     res.ErrorBlocks,
		Digests:         res.Digests,
		DurationSeconds: res.Duration.Seconds(),
	}
}

// Write stores the report under dir as usbctl-report-<id>.json and returns
// the final path. The write goes through a temp file, fsync, then rename.
func Write(dir string, r Report) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	target := filepath.Join(dir, "usbctl-report-"+r.ID+".json")
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	return target, nil
}

// Read loads a previously written report, for the verify path and tests.
func Read(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return r, nil
}
