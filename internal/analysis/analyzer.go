// Package analysis defines the external analysis capability: an opaque
// text-and-images to text function. The concrete implementation talks to the
// Gemini REST API; tests substitute stubs.
package analysis

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Progress stages reported while a batch job runs.
const (
	StageInitializing = "initializing"
	StageAnalyzing    = "analyzing"
	StageExtracting   = "extracting"
	StageOptimizing   = "optimizing"
	StageFinalizing   = "finalizing"
	StageError        = "error"
)

// Progress is a fire-and-forget status update for a long-running analysis.
type Progress struct {
	Stage          string `json:"stage"`
	Message        string `json:"message"`
	TotalCount     int    `json:"totalCount"`
	ProcessedCount int    `json:"processedCount"`
}

// ProgressFunc receives progress updates. May be nil.
type ProgressFunc func(Progress)

// Analyzer is the analysis capability.
type Analyzer interface {
	// AnalyzeFrame extracts the question and answer from a single frame.
	AnalyzeFrame(ctx context.Context, frame string) (string, error)
	// AnalyzeBatch analyzes a set of frames together and returns a
	// reconciled report. Progress updates are best-effort.
	AnalyzeBatch(ctx context.Context, frames []string, progress ProgressFunc) (string, error)
	// Chat answers a free-text question, optionally grounded on a frame.
	Chat(ctx context.Context, message, frame string) (string, error)
}

// ErrNoFrames is returned when a batch call receives an empty frame set.
var ErrNoFrames = errors.New("no frames provided")

// Frames travel as base64 data URLs.
var framePattern = regexp.MustCompile(`^data:image/(jpeg|jpg|png|webp);base64,`)

// ValidFrame reports whether data is a well-formed image data URL.
func ValidFrame(data string) bool {
	return framePattern.MatchString(data)
}

// splitFrame separates a data URL into its MIME type and raw base64 payload.
func splitFrame(data string) (mimeType, b64 string) {
	m := framePattern.FindStringSubmatch(data)
	if m == nil {
		return "image/jpeg", data
	}
	idx := strings.Index(data, ",")
	return "image/" + m[1], data[idx+1:]
}
