// Package pairing issues new sessions together with the hand-off payload a
// second device needs to join: the session ID, the shared secret, and the
// server endpoint, rendered both as canonical JSON and as a scannable QR
// code.
package pairing

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"camlink/internal/session"
)

// ErrEncodingFailed is returned when the QR image could not be rendered.
// Session creation succeeded in that case; the caller may re-render without
// issuing a new session.
var ErrEncodingFailed = errors.New("failed to encode handoff payload")

const qrSize = 256

// Payload is the canonical hand-off document embedded in the QR code and
// returned for manual entry.
type Payload struct {
	SessionID string `json:"sessionId"`
	Secret    string `json:"secret"`
	ServerURL string `json:"serverUrl"`
}

// Grant is the result of issuing a pairing session.
type Grant struct {
	Session   *session.Session
	Payload   string // canonical JSON of Payload
	QRDataURL string // base64 PNG data URL of the same payload
}

// Issuer creates pairing sessions and their hand-off artifacts.
type Issuer struct {
	store     *session.Store
	serverURL string
}

// NewIssuer creates an issuer bound to a store and the externally reachable
// server URL.
func NewIssuer(store *session.Store, serverURL string) *Issuer {
	return &Issuer{store: store, serverURL: serverURL}
}

// Issue creates a session and renders its hand-off payload.
func (i *Issuer) Issue() (*Grant, error) {
	sess, err := i.store.Create()
	if err != nil {
		return nil, fmt.Errorf("creating pairing session: %w", err)
	}

	raw, err := json.Marshal(Payload{
		SessionID: sess.ID,
		Secret:    sess.Secret,
		ServerURL: i.serverURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	png, err := qrcode.Encode(string(raw), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}

	return &Grant{
		Session:   sess,
		Payload:   string(raw),
		QRDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}
