// Package dpop validates DPoP proofs (RFC 9449) presented at the token
// and introspection endpoints.
package dpop

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidProof is returned for any malformed, mis-signed, or
// mis-targeted proof.
var ErrInvalidProof = errors.New("dpop: invalid proof")

// ErrNonceRequired signals that the server demands a fresh nonce. The
// carried nonce must be surfaced to the client in a DPoP-Nonce header
// rather than as a generic error.
type ErrNonceRequired struct {
	Nonce string
}

func (e *ErrNonceRequired) Error() string {
	return "dpop: server nonce required"
}

// Proof is the validated result of a DPoP proof.
type Proof struct {
	// Thumbprint is the base64url SHA-256 JWK thumbprint (RFC 7638) of
	// the proof key. Access tokens are bound to this value via cnf.jkt.
	Thumbprint string

	// JTI is the proof's unique identifier.
	JTI string
}

// ProofRequest carries the HTTP request facts a proof must match.
type ProofRequest struct {
	// Method is the HTTP method of the request carrying the proof.
	Method string

	// URL is the full request URL (htu comparison ignores query/fragment).
	URL string

	// ExpectedThumbprint, when set, must equal the proof key's
	// thumbprint. Used on refresh grants to enforce key continuity.
	ExpectedThumbprint string
}

// ProofValidator is the narrow interface the token request validator
// consumes. The concrete implementation lives in this package; tests
// substitute fakes.
type ProofValidator interface {
	ValidateProof(ctx context.Context, proof string, req ProofRequest) (*Proof, error)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProof, fmt.Sprintf(format, args...))
}
