package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"camlink/internal/analysis"
	"camlink/internal/logging"
	"camlink/internal/pairing"
	"camlink/internal/session"
)

const testFrame = "data:image/png;base64,dGVzdGZyYW1l"

type stubAnalyzer struct {
	frameText string
	batchText string
	err       error
}

func (s *stubAnalyzer) AnalyzeFrame(ctx context.Context, frame string) (string, error) {
	return s.frameText, s.err
}

func (s *stubAnalyzer) AnalyzeBatch(ctx context.Context, frames []string, progress analysis.ProgressFunc) (string, error) {
	return s.batchText, s.err
}

func (s *stubAnalyzer) Chat(ctx context.Context, message, frame string) (string, error) {
	return "re: " + message, s.err
}

func newTestRouter(t *testing.T, an analysis.Analyzer) (*session.Store, http.Handler) {
	t.Helper()
	store := session.NewStore(time.Hour)
	issuer := pairing.NewIssuer(store, "http://localhost:3001")
	a := New(issuer, an, logging.Discard())
	return store, NewRouter(a, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("response not JSON (%d): %s", rec.Code, rec.Body.String())
	}
	return rec, parsed
}

func TestCreatePairing(t *testing.T) {
	store, router := newTestRouter(t, &stubAnalyzer{})

	rec, body := doJSON(t, router, "POST", "/api/pairing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["success"] != true {
		t.Fatalf("response: %v", body)
	}

	sid, _ := body["sessionId"].(string)
	if _, ok := store.Get(sid); !ok {
		t.Fatalf("issued session %q not retrievable", sid)
	}
	if qr, _ := body["qrData"].(string); !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Fatal("qrData is not a PNG data URL")
	}
	if key, _ := body["encryptionKey"].(string); len(key) != 64 {
		t.Fatalf("encryptionKey length = %d, want 64 hex chars", len(key))
	}
	if exp, _ := body["expiresAt"].(float64); int64(exp) <= time.Now().UnixMilli() {
		t.Fatal("expiresAt not in the future")
	}
}

func TestBatchAnalyze(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{batchText: "total number of questions : 0\n\nNo questions found."})

	rec, body := doJSON(t, router, "POST", "/api/batch-analyze", map[string]interface{}{
		"images": []string{testFrame, testFrame},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, body)
	}
	if body["success"] != true || body["analysis"] == "" {
		t.Fatalf("response: %v", body)
	}
	if count, _ := body["imageCount"].(float64); count != 2 {
		t.Fatalf("imageCount = %v, want 2", body["imageCount"])
	}
}

func TestBatchAnalyzeRejectsBadInput(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{})

	rec, _ := doJSON(t, router, "POST", "/api/batch-analyze", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty images: status = %d", rec.Code)
	}

	rec, _ = doJSON(t, router, "POST", "/api/batch-analyze", map[string]interface{}{
		"images": []string{"not a data url"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid frame: status = %d", rec.Code)
	}
}

func TestBatchAnalyzeCapabilityFailure(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{err: errors.New("capability down")})

	rec, body := doJSON(t, router, "POST", "/api/batch-analyze", map[string]interface{}{
		"images": []string{testFrame},
	})
	if rec.Code != http.StatusInternalServerError || body["success"] != false {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestUploadAndLatestImage(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{frameText: "Answer: b"})

	rec, body := doJSON(t, router, "GET", "/api/latest-image", nil)
	if rec.Code != http.StatusOK || body["success"] != false {
		t.Fatalf("empty store: status = %d, body = %v", rec.Code, body)
	}

	rec, body = doJSON(t, router, "POST", "/api/upload-image", map[string]interface{}{
		"imageData": testFrame,
	})
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("upload: status = %d, body = %v", rec.Code, body)
	}
	if body["analysis"] != "Answer: b" {
		t.Fatalf("analysis = %v", body["analysis"])
	}

	rec, body = doJSON(t, router, "GET", "/api/latest-image", nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("fetch: status = %d, body = %v", rec.Code, body)
	}
	if body["imageData"] != testFrame || body["analysis"] != "Answer: b" {
		t.Fatalf("latest image mismatch: %v", body)
	}
	if id, _ := body["imageId"].(string); id == "" {
		t.Fatal("imageId missing")
	}
}

func TestUploadRejectsMissingImage(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{})
	rec, _ := doJSON(t, router, "POST", "/api/upload-image", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{})

	rec, body := doJSON(t, router, "POST", "/api/chat", map[string]interface{}{
		"message": "what is question 2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["response"] != "re: what is question 2" {
		t.Fatalf("response = %v", body["response"])
	}

	rec, _ = doJSON(t, router, "POST", "/api/chat", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message: status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, router := newTestRouter(t, &stubAnalyzer{})
	for _, path := range []string{"/health", "/api/health"} {
		rec, body := doJSON(t, router, "GET", path, nil)
		if rec.Code != http.StatusOK || body["status"] != "ok" {
			t.Fatalf("%s: status = %d, body = %v", path, rec.Code, body)
		}
	}
}
