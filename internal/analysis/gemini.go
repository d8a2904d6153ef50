package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"camlink/internal/logging"
	"camlink/internal/reconcile"
)

const (
	defaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel         = "gemini-3-flash"
	defaultFallbackModel = "gemini-2.5-flash"

	// batchGuardTimeout bounds a single batch call regardless of caller
	// deadlines; the upstream API offers no cancellation of its own.
	batchGuardTimeout = 5 * time.Minute
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("analysis capability not configured: missing API key")

// errModelUnavailable marks a failure worth retrying on the fallback model.
var errModelUnavailable = errors.New("model unavailable")

// errRecitation marks output blocked by the upstream recitation filter.
var errRecitation = errors.New("recitation detected in response")

// Gemini implements Analyzer against the Gemini REST API. When the primary
// model is unavailable, calls are retried once on the fallback model.
type Gemini struct {
	apiKey        string
	model         string
	fallbackModel string
	baseURL       string
	client        *http.Client
	log           *logging.Logger
}

// GeminiOption configures a Gemini client.
type GeminiOption func(*Gemini)

// WithModels overrides the primary and fallback model names.
func WithModels(model, fallback string) GeminiOption {
	return func(g *Gemini) {
		if model != "" {
			g.model = model
		}
		if fallback != "" {
			g.fallbackModel = fallback
		}
	}
}

// WithBaseURL overrides the API endpoint. Used in tests.
func WithBaseURL(url string) GeminiOption {
	return func(g *Gemini) { g.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.client = c }
}

// NewGemini creates a Gemini-backed analyzer.
func NewGemini(apiKey string, log *logging.Logger, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:        apiKey,
		model:         defaultModel,
		fallbackModel: defaultFallbackModel,
		baseURL:       defaultBaseURL,
		client:        &http.Client{Timeout: batchGuardTimeout},
		log:           log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wire types for the generateContent endpoint.

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
	TopK        int     `json:"topK"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeFrame extracts question and answer text from one frame.
func (g *Gemini) AnalyzeFrame(ctx context.Context, frame string) (string, error) {
	parts := []geminiPart{{Text: framePrompt}, inlinePart(frame)}
	text, err := g.generateWithFallback(ctx, parts, nil)
	if err != nil {
		return "", fmt.Errorf("image analysis failed: %w", err)
	}
	return text, nil
}

// AnalyzeBatch analyzes all frames together in one call and returns the
// reconciled report. The call is raced against an internal guard timeout.
func (g *Gemini) AnalyzeBatch(ctx context.Context, frames []string, progress ProgressFunc) (string, error) {
	if len(frames) == 0 {
		return "", ErrNoFrames
	}

	emit(progress, Progress{
		Stage:          StageInitializing,
		Message:        fmt.Sprintf("Preparing to analyze %d frames...", len(frames)),
		TotalCount:     len(frames),
		ProcessedCount: 0,
	})

	parts := make([]geminiPart, 0, len(frames)+1)
	parts = append(parts, geminiPart{Text: batchPrompt(len(frames))})
	for _, frame := range frames {
		parts = append(parts, inlinePart(frame))
	}

	emit(progress, Progress{
		Stage:          StageAnalyzing,
		Message:        fmt.Sprintf("Analyzing all %d frames together...", len(frames)),
		TotalCount:     len(frames),
		ProcessedCount: len(frames),
	})

	ctx, cancel := context.WithTimeout(ctx, batchGuardTimeout)
	defer cancel()

	// Higher temperature discourages verbatim reproduction, which trips the
	// upstream recitation filter.
	cfg := &geminiGenerationConfig{Temperature: 0.7, TopP: 0.95, TopK: 40}
	text, err := g.generateWithFallback(ctx, parts, cfg)
	if err != nil {
		return "", fmt.Errorf("batch analysis failed: %w", err)
	}

	emit(progress, Progress{
		Stage:          StageFinalizing,
		Message:        "Processing results...",
		TotalCount:     len(frames),
		ProcessedCount: len(frames),
	})

	return reconcile.Canonicalize(text), nil
}

// Chat answers a free-text message, optionally grounded on a frame.
func (g *Gemini) Chat(ctx context.Context, message, frame string) (string, error) {
	var parts []geminiPart
	if frame != "" {
		parts = append(parts, geminiPart{Text: chatContextPreamble}, inlinePart(frame))
	}
	parts = append(parts, geminiPart{Text: message})

	text, err := g.generateWithFallback(ctx, parts, nil)
	if err != nil {
		return "", fmt.Errorf("chat processing failed: %w", err)
	}
	return text, nil
}

// generateWithFallback calls the primary model and retries once on the
// fallback model when the primary is unavailable or its output was blocked.
func (g *Gemini) generateWithFallback(ctx context.Context, parts []geminiPart, cfg *geminiGenerationConfig) (string, error) {
	text, err := g.generate(ctx, g.model, parts, cfg)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, errModelUnavailable) && !errors.Is(err, errRecitation) {
		return "", err
	}
	if g.fallbackModel == "" || g.fallbackModel == g.model {
		return "", err
	}
	g.log.Warnf("model %s failed (%v), retrying with %s", g.model, err, g.fallbackModel)
	return g.generate(ctx, g.fallbackModel, parts, cfg)
}

func (g *Gemini) generate(ctx context.Context, model string, parts []geminiPart, cfg *geminiGenerationConfig) (string, error) {
	if g.apiKey == "" {
		return "", ErrNotConfigured
	}

	req := geminiRequest{GenerationConfig: cfg}
	req.Contents = append(req.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: parts})

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", errModelUnavailable, model)
	}
	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decoding capability response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("capability error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", errors.New("capability returned no candidates")
	}
	if parsed.Candidates[0].FinishReason == "RECITATION" {
		return "", errRecitation
	}

	var text string
	for _, p := range parsed.Candidates[0].Content.Parts {
		text += p.Text
	}
	if text == "" {
		return "", errors.New("capability returned empty text")
	}
	return text, nil
}

func inlinePart(frame string) geminiPart {
	mimeType, b64 := splitFrame(frame)
	return geminiPart{InlineData: &geminiInlineData{MimeType: mimeType, Data: b64}}
}

func emit(progress ProgressFunc, p Progress) {
	if progress != nil {
		progress(p)
	}
}
