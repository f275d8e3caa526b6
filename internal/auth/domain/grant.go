package domain

import (
	"encoding/json"
	"time"
)

// Grant types persisted in the grant store.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "device_code"
)

// Grant is a persisted authorization artifact (authorization code, refresh
// token, device code) keyed by an opaque value. Read-only to introspection
// logic, which only inspects consumed/expiration state.
type Grant struct {
	Key       string
	Type      string
	SubjectID string
	ClientID  string

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time

	// Payload is opaque serialized grant data (scopes, sid, jkt, ...).
	Payload []byte
}

// GrantPayload is the structured content of Grant.Payload.
type GrantPayload struct {
	Scopes []string `json:"scopes,omitempty"`
	SID    string   `json:"sid,omitempty"`

	// JKT is the DPoP key thumbprint the grant's token was bound to.
	JKT string `json:"jkt,omitempty"`
}

// DecodePayload unmarshals the grant's payload. An empty payload decodes
// to the zero value.
func (g *Grant) DecodePayload() (GrantPayload, error) {
	var p GrantPayload
	if len(g.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(g.Payload, &p)
	return p, err
}

// EncodeGrantPayload marshals a payload for storage.
func EncodeGrantPayload(p GrantPayload) ([]byte, error) {
	return json.Marshal(p)
}

// Consumed reports whether the grant has already been used.
func (g *Grant) Consumed() bool {
	return g.ConsumedAt != nil
}

// Expired reports whether the grant is past its expiration.
func (g *Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Active reports whether the grant is neither consumed nor expired.
func (g *Grant) Active(now time.Time) bool {
	return !g.Consumed() && !g.Expired(now)
}
