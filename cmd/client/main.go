package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"camlink/internal/analysis"
	"camlink/internal/batch"
	"camlink/internal/crypto"
	"camlink/internal/logging"
	"camlink/internal/signal"
)

// Default server base URL; can override with CAMLINK_SERVER env var or
// --server flag.
var serverBaseURL = "http://localhost:3001"

func main() {
	cmd := flag.String("cmd", "pair", "Command: pair|batch|capture|chat")
	serverFlag := flag.String("server", "", "Override server base URL (e.g. https://cam.example.com)")
	sessionID := flag.String("session", "", "Session ID (for batch/capture)")
	secret := flag.String("secret", "", "Session secret (for batch/capture)")
	dir := flag.String("dir", "", "Directory of images to analyze (for batch)")
	message := flag.String("message", "", "Chat message (for chat)")
	deadline := flag.Duration("deadline", batch.DefaultDeadline, "Deadline for the primary batch transport")
	flag.Parse()

	if env := os.Getenv("CAMLINK_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if *serverFlag != "" {
		serverBaseURL = strings.TrimRight(*serverFlag, "/")
	}

	var err error
	switch *cmd {
	case "pair":
		err = pairFlow()
	case "batch":
		if *sessionID == "" || *dir == "" {
			fmt.Println("--session and --dir required")
			os.Exit(1)
		}
		err = batchFlow(*sessionID, *secret, *dir, *deadline)
	case "capture":
		if *sessionID == "" {
			fmt.Println("--session required")
			os.Exit(1)
		}
		err = captureFlow(*sessionID, *secret)
	case "chat":
		if *message == "" {
			fmt.Println("--message required")
			os.Exit(1)
		}
		err = chatFlow(*message)
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

// ====== Pairing ======

type pairingResponse struct {
	Success       bool   `json:"success"`
	SessionID     string `json:"sessionId"`
	QRData        string `json:"qrData"`
	EncryptionKey string `json:"encryptionKey"`
	ExpiresAt     int64  `json:"expiresAt"`
	Error         string `json:"error"`
}

func pairFlow() error {
	fmt.Println("[1] Requesting pairing session from", serverBaseURL)
	body, status, err := postJSON(serverBaseURL+"/api/pairing", struct{}{})
	if err != nil {
		return fmt.Errorf("post pairing: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", status, string(body))
	}

	var resp pairingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode pairing response: %w", err)
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}

	fmt.Println("[2] Session created:", resp.SessionID)
	fmt.Println("    Secret:", resp.EncryptionKey)
	fmt.Println("    Expires:", time.UnixMilli(resp.ExpiresAt).Format(time.RFC3339))
	fmt.Println("    Scan the QR below on the camera device, or join with the session ID.")
	fmt.Println("    QR (PNG data URL):", resp.QRData[:min(len(resp.QRData), 80)]+"...")
	return nil
}

// ====== Batch analysis ======

func batchFlow(sessionID, secret, dir string, deadline time.Duration) error {
	fmt.Println("[1] Loading frames from", dir)
	frames, err := loadFrames(dir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}
	fmt.Printf("[2] %d frames loaded\n", len(frames))

	log := logging.Discard()
	var primary batch.Submitter
	conn, err := dialSession(sessionID, secret)
	if err != nil {
		fmt.Println("[3] Signaling channel unavailable, will use HTTP:", err)
	} else {
		defer conn.close()
		fmt.Println("[3] Joined session", sessionID, "as controller")
		primary = conn
	}

	fallback := &httpSubmitter{}
	pipeline := batch.New(primary, fallback, log,
		batch.WithDeadline(deadline),
		batch.WithProgress(func(p analysis.Progress) {
			if p.Message != "" {
				fmt.Printf("    [%s] %s\n", p.Stage, p.Message)
			} else {
				fmt.Printf("    [%s]\n", p.Stage)
			}
		}),
	)

	fmt.Println("[4] Running batch analysis...")
	res := pipeline.Run(context.Background(), frames)
	if res.Err != nil {
		return res.Err
	}
	if res.TimedOut {
		fmt.Println("[5] Primary transport timed out; result came from fallback")
	}
	fmt.Printf("[5] Analysis complete via %s transport:\n\n", res.Transport)
	fmt.Println(res.Report)
	return nil
}

// loadFrames reads every image in dir into a base64 data URL, in name order.
func loadFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if mimeForExt(filepath.Ext(e.Name())) != "" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		mime := mimeForExt(filepath.Ext(name))
		frames = append(frames, "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(data))
	}
	return frames, nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	return ""
}

// ====== Signaling connection ======

// sessionConn is a joined controller connection. It doubles as the primary
// batch submitter.
type sessionConn struct {
	ws     *websocket.Conn
	secret string
}

func dialSession(sessionID, secret string) (*sessionConn, error) {
	wsURL, err := toWebsocketURL(serverBaseURL)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &sessionConn{ws: ws, secret: secret}
	join, _ := signal.Encode(signal.TypeJoinSession, signal.JoinPayload{
		SessionID: sessionID,
		Role:      signal.RoleController,
		Secret:    secret,
	})
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		ws.Close()
		return nil, err
	}

	env, err := c.read(10 * time.Second)
	if err != nil {
		ws.Close()
		return nil, err
	}
	switch env.Type {
	case signal.TypeSessionJoined:
		return c, nil
	case signal.TypePairingError:
		var p signal.ErrorPayload
		env.DecodePayload(&p)
		ws.Close()
		return nil, errors.New(p.Error)
	default:
		ws.Close()
		return nil, fmt.Errorf("unexpected reply %q to join", env.Type)
	}
}

func toWebsocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

func (c *sessionConn) close() {
	leave, _ := signal.Encode(signal.TypeLeaveSession, struct{}{})
	c.ws.WriteMessage(websocket.TextMessage, leave)
	c.ws.Close()
}

func (c *sessionConn) read(timeout time.Duration) (*signal.Envelope, error) {
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return signal.DecodeEnvelope(data)
}

// decodePayload unwraps the encryption envelope when present.
func (c *sessionConn) decodePayload(env *signal.Envelope, v interface{}) error {
	if !env.Encrypted {
		return env.DecodePayload(v)
	}
	var wrapped signal.EncryptedPayload
	if err := env.DecodePayload(&wrapped); err != nil {
		return err
	}
	plain, err := crypto.Open(wrapped.Data, c.secret)
	if err != nil {
		return fmt.Errorf("decrypting %s payload: %w", env.Type, err)
	}
	return json.Unmarshal(plain, v)
}

func (c *sessionConn) Available() bool { return c != nil && c.ws != nil }

// Submit sends a batch request over the signaling channel and waits for its
// terminal message, printing progress along the way.
func (c *sessionConn) Submit(ctx context.Context, frames []string) (string, error) {
	req, err := signal.Encode(signal.TypeBatchRequest, signal.BatchRequestPayload{
		Frames:    frames,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, req); err != nil {
		return "", err
	}

	type outcome struct {
		report string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		for {
			env, err := c.read(time.Hour)
			if err != nil {
				done <- outcome{err: err}
				return
			}
			switch env.Type {
			case signal.TypeBatchProgress:
				var p signal.BatchProgressPayload
				if env.DecodePayload(&p) == nil {
					fmt.Printf("    [%s] %d/%d\n", p.Stage, p.ProcessedCount, p.TotalCount)
				}
			case signal.TypeBatchResponse:
				var p signal.BatchResponsePayload
				if err := c.decodePayload(env, &p); err != nil {
					done <- outcome{err: err}
					return
				}
				done <- outcome{report: p.Report}
				return
			case signal.TypeBatchError:
				var p signal.ErrorPayload
				env.DecodePayload(&p)
				done <- outcome{err: errors.New(p.Error)}
				return
			}
		}
	}()

	select {
	case out := <-done:
		return out.report, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ====== HTTP fallback transport ======

type httpSubmitter struct{}

func (h *httpSubmitter) Available() bool { return true }

func (h *httpSubmitter) Submit(ctx context.Context, frames []string) (string, error) {
	payload := map[string]interface{}{"images": frames}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", serverBaseURL+"/api/batch-analyze", strings.NewReader(string(data)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Success  bool   `json:"success"`
		Analysis string `json:"analysis"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !parsed.Success {
		return "", errors.New(parsed.Error)
	}
	return parsed.Analysis, nil
}

// ====== Capture ======

func captureFlow(sessionID, secret string) error {
	conn, err := dialSession(sessionID, secret)
	if err != nil {
		return err
	}
	defer conn.close()
	fmt.Println("[1] Joined session", sessionID, "as controller")

	req, _ := signal.Encode(signal.TypeCaptureRequest, signal.CaptureRequestPayload{
		Timestamp: time.Now().UnixMilli(),
	})
	if err := conn.ws.WriteMessage(websocket.TextMessage, req); err != nil {
		return err
	}
	fmt.Println("[2] Capture requested, waiting for frame...")

	for {
		env, err := conn.read(2 * time.Minute)
		if err != nil {
			return err
		}
		switch env.Type {
		case signal.TypeCaptureResponse:
			var p signal.CaptureResponsePayload
			if err := conn.decodePayload(env, &p); err != nil {
				return err
			}
			fmt.Println("[3] Frame received, analysis:")
			fmt.Println(p.Analysis)
			return nil
		case signal.TypeCaptureError:
			var p signal.ErrorPayload
			env.DecodePayload(&p)
			return errors.New(p.Error)
		}
	}
}

// ====== Chat ======

func chatFlow(message string) error {
	body, status, err := postJSON(serverBaseURL+"/api/chat", map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("post chat: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", status, string(body))
	}

	var parsed struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !parsed.Success {
		return errors.New(parsed.Error)
	}
	fmt.Println(parsed.Response)
	return nil
}

// ===== Helpers =====

func postJSON(url string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return b, resp.StatusCode, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
