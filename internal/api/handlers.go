// Package api exposes the REST surface: pairing issuance, the HTTP fallback
// for batch analysis, direct upload/chat endpoints, and health checks.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"camlink/internal/analysis"
	"camlink/internal/logging"
	"camlink/internal/pairing"
)

const defaultBatchTimeout = 5 * time.Minute

// API carries the dependencies shared by all REST handlers.
type API struct {
	issuer       *pairing.Issuer
	analyzer     analysis.Analyzer
	latest       *LatestImageStore
	log          *logging.Logger
	batchTimeout time.Duration
}

// Option configures an API.
type Option func(*API)

// WithBatchTimeout bounds analysis runs on the HTTP path.
func WithBatchTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.batchTimeout = d
		}
	}
}

func New(issuer *pairing.Issuer, analyzer analysis.Analyzer, log *logging.Logger, opts ...Option) *API {
	a := &API{
		issuer:       issuer,
		analyzer:     analyzer,
		latest:       NewLatestImageStore(),
		log:          log,
		batchTimeout: defaultBatchTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}

// CreatePairingHandler mints a fresh session and returns its QR handoff
// payload.
func (a *API) CreatePairingHandler(w http.ResponseWriter, r *http.Request) {
	grant, err := a.issuer.Issue()
	if err != nil {
		a.log.Errorf("pairing issuance failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create pairing session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"sessionId":     grant.Session.ID,
		"qrData":        grant.QRDataURL,
		"encryptionKey": grant.Session.Secret,
		"expiresAt":     grant.Session.ExpiresAt.UnixMilli(),
	})
}

type batchAnalyzeRequest struct {
	Images []string `json:"images"`
}

// BatchAnalyzeHandler is the HTTP fallback transport for batch analysis. It
// runs the same analysis as the channel path but without progress streaming.
func (a *API) BatchAnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req batchAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "Images are required")
		return
	}
	for _, frame := range req.Images {
		if !analysis.ValidFrame(frame) {
			writeError(w, http.StatusBadRequest, "invalid image data")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.batchTimeout)
	defer cancel()

	report, err := a.analyzer.AnalyzeBatch(ctx, req.Images, nil)
	if err != nil {
		a.log.Errorf("batch analysis over HTTP failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to analyze images")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"analysis":   report,
		"imageCount": len(req.Images),
	})
}

type uploadImageRequest struct {
	ImageData string `json:"imageData"`
}

// UploadImageHandler analyzes a single frame and stores it for polling
// clients.
func (a *API) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	var req uploadImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ImageData == "" {
		writeError(w, http.StatusBadRequest, "Image data is required")
		return
	}
	if !analysis.ValidFrame(req.ImageData) {
		writeError(w, http.StatusBadRequest, "invalid image data")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.batchTimeout)
	defer cancel()

	text, err := a.analyzer.AnalyzeFrame(ctx, req.ImageData)
	if err != nil {
		a.log.Errorf("image analysis failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to process image")
		return
	}

	now := time.Now().UnixMilli()
	a.latest.Set(req.ImageData, text, now)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"analysis":  text,
		"timestamp": now,
		"message":   "Image uploaded and analyzed successfully",
	})
}

// LatestImageHandler returns the most recently uploaded frame, if any.
func (a *API) LatestImageHandler(w http.ResponseWriter, r *http.Request) {
	img := a.latest.Get()
	if img == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "No image available",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"imageData": img.ImageData,
		"analysis":  img.Analysis,
		"timestamp": img.Timestamp,
		"imageId":   img.ImageID,
	})
}

type chatRequest struct {
	Message      string `json:"message"`
	ImageContext string `json:"imageContext"`
}

// ChatHandler answers a free-text question without requiring a paired
// session.
func (a *API) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.batchTimeout)
	defer cancel()

	reply, err := a.analyzer.Chat(ctx, req.Message, req.ImageContext)
	if err != nil {
		a.log.Errorf("chat failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to process chat message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"response": reply,
	})
}

// HealthHandler reports liveness.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
