package inference

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// APIKeyHeader carries the shared-secret credential when auth is enabled.
	APIKeyHeader = "X-API-Key"

	// ClientIDHeader optionally names the caller for audit correlation.
	// When absent, the remote address stands in.
	ClientIDHeader = "X-Client-ID"
)

// Gate admits inbound requests into the pipeline. It allocates a fresh
// request id before anything else happens, so even a request that fails
// authentication has a correlatable identity, and optionally enforces a
// shared-secret credential.
//
// An empty secret is the explicit open-mode state: the credential check is
// skipped entirely and no request is ever rejected for auth.
type Gate struct {
	secretHash [sha256.Size]byte
	required   bool
}

// NewGate creates a gate. An empty apiKey configures open mode.
func NewGate(apiKey string) *Gate {
	g := &Gate{required: apiKey != ""}
	if g.required {
		g.secretHash = sha256.Sum256([]byte(apiKey))
	}
	return g
}

// Required reports whether a credential is enforced.
func (g *Gate) Required() bool { return g.required }

// Admit allocates a request context for r and checks the credential.
// The returned context is valid even when the error is non-nil.
func (g *Gate) Admit(r *http.Request) (RequestContext, error) {
	rc := g.NewContext(r)
	if err := g.Authorize(r); err != nil {
		return rc, err
	}
	return rc, nil
}

// NewContext allocates a fresh request context for r. Ids are always
// server-generated; a client-supplied X-Request-ID is ignored so
// correlation cannot be spoofed.
func (g *Gate) NewContext(r *http.Request) RequestContext {
	identity := r.Header.Get(ClientIDHeader)
	if identity == "" {
		identity = r.RemoteAddr
	}
	return RequestContext{
		RequestID:      uuid.NewString(),
		ClientIdentity: identity,
		ReceivedAt:     time.Now().UTC(),
	}
}

// Authorize checks the presented credential against the configured secret.
// Comparison runs over fixed-length digests so it does not short-circuit on
// the first differing byte.
func (g *Gate) Authorize(r *http.Request) error {
	if !g.required {
		return nil
	}

	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return &AuthenticationError{Reason: "missing_credential"}
	}

	presentedHash := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(presentedHash[:], g.secretHash[:]) != 1 {
		return &AuthenticationError{Reason: "invalid_credential"}
	}
	return nil
}
