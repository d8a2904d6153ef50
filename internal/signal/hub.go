package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"camlink/internal/analysis"
	"camlink/internal/crypto"
	"camlink/internal/logging"
	"camlink/internal/session"
)

const defaultAnalyzeTimeout = 5 * time.Minute

// Hub owns all signaling connections and drives the protocol state machine.
// Handlers run on each connection's reader goroutine; anything that calls
// the analysis capability is moved to its own goroutine and posts results
// back through the connection's send queue.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn

	store    *session.Store
	analyzer analysis.Analyzer
	log      *logging.Logger

	encryptPayloads bool
	analyzeTimeout  time.Duration
	allowedOrigins  map[string]bool
	devMode         bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithEncryption wraps capture/batch/chat response payloads in the
// authenticated-encryption envelope keyed by the session secret.
func WithEncryption(on bool) HubOption {
	return func(h *Hub) { h.encryptPayloads = on }
}

// WithAnalyzeTimeout bounds single-frame and chat capability calls.
func WithAnalyzeTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.analyzeTimeout = d
		}
	}
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// devMode allows any origin.
func WithAllowedOrigins(origins []string, devMode bool) HubOption {
	return func(h *Hub) {
		h.devMode = devMode
		h.allowedOrigins = make(map[string]bool, len(origins))
		for _, o := range origins {
			h.allowedOrigins[o] = true
		}
	}
}

// NewHub creates a hub over a session store and an analysis capability.
func NewHub(store *session.Store, analyzer analysis.Analyzer, log *logging.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		conns:          make(map[string]*Conn),
		store:          store,
		analyzer:       analyzer,
		log:            log,
		analyzeTimeout: defaultAnalyzeTimeout,
		devMode:        true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.devMode {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.log.Infof("connection %s registered", c.ID)
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID]
	delete(h.conns, c.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.cleanupSession(c)
	close(c.done)
	h.log.Infof("connection %s disconnected", c.ID)
}

func (h *Hub) conn(id string) *Conn {
	if id == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

// connState reads a connection's join state under the hub lock.
func (h *Hub) connState(c *Conn) (role, sessionID, secret string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.role, c.sessionID, c.secret
}

// handleMessage dispatches one inbound frame. Unknown and malformed
// messages are answered, never silently dropped.
func (h *Hub) handleMessage(c *Conn, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		h.sendError(c, TypeSessionError, err.Error())
		return
	}

	switch env.Type {
	case TypeJoinSession:
		h.handleJoin(c, env)
	case TypeLeaveSession:
		h.handleLeave(c)
	case TypeSessionStart:
		h.handleSessionStart(c)
	case TypeSessionStop:
		h.handleSessionStop(c)
	case TypeCaptureRequest:
		h.handleCaptureRequest(c)
	case TypeCaptureResponse:
		h.handleCaptureResponse(c, env)
	case TypeBatchRequest:
		h.handleBatchRequest(c, env)
	case TypeChatMessage:
		h.handleChat(c, env)
	case TypeHeartbeat:
		h.send(c, TypeHeartbeat, HeartbeatPayload{Timestamp: now()})
	default:
		h.sendError(c, TypeSessionError, fmt.Sprintf("unsupported message type: %s", env.Type))
	}
}

func (h *Hub) handleJoin(c *Conn, env *Envelope) {
	var p JoinPayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(c, TypePairingError, err.Error())
		return
	}
	if p.SessionID == "" || p.Role == "" {
		h.sendError(c, TypePairingError, "missing session ID or role")
		return
	}
	if !ValidRole(p.Role) {
		h.sendError(c, TypePairingError, fmt.Sprintf("invalid role: %s", p.Role))
		return
	}

	sess, ok := h.store.Get(p.SessionID)
	if !ok {
		h.sendError(c, TypePairingError, "session not found or expired")
		return
	}
	if p.Secret != "" && p.Secret != sess.Secret {
		h.sendError(c, TypePairingError, "invalid session secret")
		return
	}

	// A session supports exactly one live connection per role.
	h.mu.Lock()
	if existing := sess.ConnID(p.Role); existing != "" && existing != c.ID && h.conns[existing] != nil {
		h.mu.Unlock()
		h.sendError(c, TypePairingError, "role already occupied")
		return
	}
	c.role = p.Role
	c.sessionID = p.SessionID
	c.secret = sess.Secret
	c.joinedAt = time.Now()
	h.mu.Unlock()

	var joined JoinedPayload
	ok = h.store.Update(p.SessionID, func(s *session.Session) {
		s.SetConnID(p.Role, c.ID)
		if s.ControllerConnID != "" && s.ViewerConnID != "" && s.Status == session.StatusPairing {
			s.Status = session.StatusPaired
		}
		joined = JoinedPayload{
			SessionID:     s.ID,
			Status:        string(s.Status),
			CaptureActive: s.CaptureActive,
		}
	})
	if !ok {
		h.mu.Lock()
		c.role, c.sessionID, c.secret = RoleUnassigned, "", ""
		h.mu.Unlock()
		h.sendError(c, TypePairingError, "session not found or expired")
		return
	}

	h.send(c, TypeSessionJoined, joined)
	if peer := h.peerOf(c); peer != nil {
		h.send(peer, TypeConnectionStatus, ConnectionStatusPayload{Connected: true, Role: p.Role})
	}
	h.log.Infof("connection %s joined session %s as %s", c.ID, p.SessionID, p.Role)
}

func (h *Hub) handleLeave(c *Conn) {
	h.cleanupSession(c)
}

// cleanupSession clears the connection's role slot, stops any capture it
// owned, and notifies the remaining party. Safe to call for unjoined
// connections.
func (h *Hub) cleanupSession(c *Conn) {
	role, sid, _ := h.connState(c)
	if sid == "" {
		return
	}

	peer := h.peerOf(c)

	h.store.Update(sid, func(s *session.Session) {
		if s.ConnID(role) == c.ID {
			s.SetConnID(role, "")
		}
		if role == RoleController {
			s.CaptureActive = false
		}
		if s.ControllerConnID == "" && s.ViewerConnID == "" {
			s.Status = session.StatusStopped
		}
	})

	h.mu.Lock()
	c.role, c.sessionID, c.secret = RoleUnassigned, "", ""
	h.mu.Unlock()

	if peer != nil {
		h.send(peer, TypeConnectionStatus, ConnectionStatusPayload{Connected: false, Role: role})
	}
}

func (h *Hub) handleSessionStart(c *Conn) {
	role, sid, _ := h.connState(c)
	if sid == "" {
		h.sendError(c, TypeSessionError, "not joined to a session")
		return
	}
	if role != RoleController {
		h.sendError(c, TypeSessionError, "only the controller may start capture")
		return
	}

	ok := h.store.Update(sid, func(s *session.Session) {
		s.CaptureActive = true
		s.Status = session.StatusActive
	})
	if !ok {
		h.sendError(c, TypeSessionError, "session not found or expired")
		return
	}

	state := SessionStatePayload{SessionID: sid, CaptureActive: true}
	h.send(c, TypeSessionStarted, state)
	if peer := h.peerOf(c); peer != nil {
		h.send(peer, TypeSessionStarted, state)
	}
}

func (h *Hub) handleSessionStop(c *Conn) {
	_, sid, _ := h.connState(c)
	if sid == "" {
		h.sendError(c, TypeSessionError, "not joined to a session")
		return
	}

	ok := h.store.Update(sid, func(s *session.Session) {
		s.CaptureActive = false
		if s.ControllerConnID != "" && s.ViewerConnID != "" {
			s.Status = session.StatusPaired
		} else {
			s.Status = session.StatusStopped
		}
	})
	if !ok {
		h.sendError(c, TypeSessionError, "session not found or expired")
		return
	}

	state := SessionStatePayload{SessionID: sid, CaptureActive: false}
	h.send(c, TypeSessionStopped, state)
	if peer := h.peerOf(c); peer != nil {
		h.send(peer, TypeSessionStopped, state)
	}
}

// handleCaptureRequest forwards a controller's request to the viewer paired
// in the same session. Requests are never broadcast across sessions.
func (h *Hub) handleCaptureRequest(c *Conn) {
	role, sid, _ := h.connState(c)
	if sid == "" || role != RoleController {
		h.sendError(c, TypeCaptureError, "capture requests require a joined controller")
		return
	}

	sess, ok := h.store.Get(sid)
	if !ok {
		h.sendError(c, TypeCaptureError, "session not found or expired")
		return
	}
	viewer := h.conn(sess.ViewerConnID)
	if viewer == nil {
		h.sendError(c, TypeCaptureError, "no viewer connected")
		return
	}

	h.send(viewer, TypeCaptureRequest, CaptureRequestPayload{Timestamp: now(), From: RoleController})
}

// handleCaptureResponse analyzes a viewer's frame off the event loop and
// forwards frame plus analysis to the controller and back to the viewer for
// local display. Analysis failures go to the viewer only.
func (h *Hub) handleCaptureResponse(c *Conn, env *Envelope) {
	role, sid, _ := h.connState(c)
	if sid == "" || role != RoleViewer {
		h.sendError(c, TypeCaptureError, "capture responses require a joined viewer")
		return
	}

	var p CaptureResponsePayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(c, TypeCaptureError, err.Error())
		return
	}
	if !analysis.ValidFrame(p.Frame) {
		h.sendError(c, TypeCaptureError, "invalid frame data")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.analyzeTimeout)
		defer cancel()

		text, err := h.analyzer.AnalyzeFrame(ctx, p.Frame)
		if err != nil {
			h.log.Errorf("frame analysis failed: %v", err)
			h.sendError(c, TypeCaptureError, "failed to analyze frame: "+err.Error())
			return
		}

		out := CaptureResponsePayload{Frame: p.Frame, Analysis: text, Timestamp: now()}
		if sess, ok := h.store.Get(sid); ok {
			if controller := h.conn(sess.ControllerConnID); controller != nil {
				h.sendSecured(controller, TypeCaptureResponse, out)
			}
		}
		h.sendSecured(c, TypeCaptureResponse, out)
	}()
}

// handleBatchRequest runs batch analysis off the event loop, streaming
// progress to the requester and delivering exactly one terminal message.
func (h *Hub) handleBatchRequest(c *Conn, env *Envelope) {
	var p BatchRequestPayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(c, TypeBatchError, err.Error())
		return
	}
	if len(p.Frames) == 0 {
		h.sendError(c, TypeBatchError, "no frames provided for batch analysis")
		return
	}
	for _, frame := range p.Frames {
		if !analysis.ValidFrame(frame) {
			h.sendError(c, TypeBatchError, "invalid frame data")
			return
		}
	}

	h.log.Infof("batch analysis of %d frames requested by %s", len(p.Frames), c.ID)

	go func() {
		progress := func(pr analysis.Progress) {
			h.send(c, TypeBatchProgress, BatchProgressPayload{
				Stage:          pr.Stage,
				Message:        pr.Message,
				TotalCount:     pr.TotalCount,
				ProcessedCount: pr.ProcessedCount,
			})
		}

		report, err := h.analyzer.AnalyzeBatch(context.Background(), p.Frames, progress)
		if err != nil {
			h.sendError(c, TypeBatchError, "failed to analyze frames: "+err.Error())
			return
		}
		h.sendSecured(c, TypeBatchResponse, BatchResponsePayload{
			Report:     report,
			FrameCount: len(p.Frames),
			Timestamp:  now(),
		})
	}()
}

func (h *Hub) handleChat(c *Conn, env *Envelope) {
	role, sid, _ := h.connState(c)
	if sid == "" || role != RoleController {
		h.sendError(c, TypeChatError, "chat requires a joined controller")
		return
	}

	var p ChatMessagePayload
	if err := env.DecodePayload(&p); err != nil {
		h.sendError(c, TypeChatError, err.Error())
		return
	}
	if p.Message == "" {
		h.sendError(c, TypeChatError, "no message provided")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.analyzeTimeout)
		defer cancel()

		reply, err := h.analyzer.Chat(ctx, p.Message, p.FrameContext)
		if err != nil {
			h.sendError(c, TypeChatError, "failed to process message")
			return
		}
		h.sendSecured(c, TypeChatResponse, ChatResponsePayload{
			Message:   p.Message,
			Response:  reply,
			Timestamp: now(),
		})
	}()
}

// peerOf returns the live connection holding the other role of c's session,
// or nil.
func (h *Hub) peerOf(c *Conn) *Conn {
	role, sid, _ := h.connState(c)
	if sid == "" {
		return nil
	}
	sess, ok := h.store.Get(sid)
	if !ok {
		return nil
	}
	switch role {
	case RoleController:
		return h.conn(sess.ViewerConnID)
	case RoleViewer:
		return h.conn(sess.ControllerConnID)
	}
	return nil
}

// send delivers a plain typed message to one connection.
func (h *Hub) send(c *Conn, msgType string, payload interface{}) {
	data, err := Encode(msgType, payload)
	if err != nil {
		h.log.Errorf("encoding %s: %v", msgType, err)
		return
	}
	if !c.enqueue(data) {
		h.log.Warnf("connection %s send buffer full, dropping %s", c.ID, msgType)
	}
}

// sendSecured behaves like send, but wraps the payload in the encryption
// envelope when payload encryption is enabled and the connection joined
// with a session secret.
func (h *Hub) sendSecured(c *Conn, msgType string, payload interface{}) {
	_, _, secret := h.connState(c)
	if !h.encryptPayloads || secret == "" {
		h.send(c, msgType, payload)
		return
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		h.log.Errorf("encoding %s: %v", msgType, err)
		return
	}
	sealed, err := crypto.Seal(plain, secret)
	if err != nil {
		h.log.Errorf("sealing %s payload: %v", msgType, err)
		h.send(c, msgType, payload)
		return
	}

	raw, err := json.Marshal(EncryptedPayload{Data: sealed})
	if err != nil {
		h.log.Errorf("encoding %s: %v", msgType, err)
		return
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw, Encrypted: true})
	if err != nil {
		h.log.Errorf("encoding %s: %v", msgType, err)
		return
	}
	if !c.enqueue(data) {
		h.log.Warnf("connection %s send buffer full, dropping %s", c.ID, msgType)
	}
}

func (h *Hub) sendError(c *Conn, msgType, msg string) {
	h.send(c, msgType, ErrorPayload{Error: msg})
}

func now() int64 {
	return time.Now().UnixMilli()
}
