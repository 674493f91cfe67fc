package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/event-pipeline/internal/model"
)

// Ingestion requests carry their credentials in these headers.
const (
	HeaderKeyID     = "X-Api-Key-Id"
	HeaderTimestamp = "X-Api-Timestamp"
	HeaderSignature = "X-Api-Signature"
)

// MaxClockSkew bounds |now - X-Api-Timestamp|. Requests outside the
// window are rejected as stale. This is a soft replay bound, not a
// nonce: identical requests inside the window verify again.
const MaxClockSkew = 300 * time.Second

// ErrUnknownKey is returned by credential stores when no project owns
// the given API key id.
var ErrUnknownKey = errors.New("unknown api key id")

// CredentialStore resolves an API key id to the owning project and its
// HMAC key material.
type CredentialStore interface {
	Resolve(ctx context.Context, apiKeyID string) (model.ProjectCredential, error)
}

// Reason identifies which authentication check failed. Reasons are for
// logs and tests only; the HTTP layer collapses every one of them into
// a single opaque 401 so callers cannot probe which check tripped.
type Reason string

const (
	ReasonMissingCredentials Reason = "missing credentials"
	ReasonMalformedTimestamp Reason = "malformed timestamp"
	ReasonStaleRequest       Reason = "stale request"
	ReasonUnknownKey         Reason = "unknown key"
	ReasonBadSignature       Reason = "bad signature"
	ReasonProjectMismatch    Reason = "project/key mismatch"
)

// Error is a tagged authentication failure.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return "unauthorized: " + string(e.Reason)
}

func failure(r Reason) error {
	return &Error{Reason: r}
}

// Sign computes the lowercase hex HMAC-SHA256 signature for an
// ingestion request. The signing string is
//
//	"{timestamp}:{METHOD}:{path}:{body}"
//
// with the method upper-cased and the path excluding any query string.
// Client SDKs and the verifier must agree on this byte-for-byte.
func Sign(secret []byte, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s:%s:%s:", timestamp, strings.ToUpper(method), path)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACVerifier authenticates ingestion requests against a credential
// store. It is stateless per request apart from the freshness window.
type HMACVerifier struct {
	creds CredentialStore

	// now is swappable for tests.
	now func() time.Time
}

// NewHMACVerifier builds a verifier backed by the given credential store.
func NewHMACVerifier(creds CredentialStore) *HMACVerifier {
	return &HMACVerifier{creds: creds, now: time.Now}
}

// Verify authenticates a captured request and returns the project the
// signing key belongs to. The caller must pass the raw body bytes it
// will later parse: request bodies are not reliably re-readable, so the
// same capture feeds both signature verification and JSON decoding.
func (v *HMACVerifier) Verify(ctx context.Context, method, path string, header http.Header, body []byte) (uuid.UUID, error) {
	keyID := header.Get(HeaderKeyID)
	ts := header.Get(HeaderTimestamp)
	sig := header.Get(HeaderSignature)
	if keyID == "" || ts == "" || sig == "" {
		return uuid.Nil, failure(ReasonMissingCredentials)
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return uuid.Nil, failure(ReasonMalformedTimestamp)
	}

	// Compared in integer seconds: converting an attacker-chosen
	// timestamp to a time.Duration could overflow and wrap past the
	// window.
	now := v.now().Unix()
	maxSkew := int64(MaxClockSkew / time.Second)
	if tsInt < now-maxSkew || tsInt > now+maxSkew {
		return uuid.Nil, failure(ReasonStaleRequest)
	}

	cred, err := v.creds.Resolve(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return uuid.Nil, failure(ReasonUnknownKey)
		}
		return uuid.Nil, fmt.Errorf("resolving api key: %w", err)
	}

	expected := Sign(cred.Secret, ts, method, path, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return uuid.Nil, failure(ReasonBadSignature)
	}

	// The signed body must claim the project the key resolves to,
	// otherwise a captured signature could be replayed against another
	// project. This check is mandatory: an unparseable body fails too.
	var claim struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(body, &claim); err != nil {
		return uuid.Nil, failure(ReasonProjectMismatch)
	}
	claimed, err := uuid.Parse(claim.ProjectID)
	if err != nil || claimed != cred.ProjectID {
		return uuid.Nil, failure(ReasonProjectMismatch)
	}

	return cred.ProjectID, nil
}

// StaticCredentials is a config-backed credential store mapping API key
// ids to project credentials. Suitable for local development and tests;
// production deployments resolve keys from the projects table instead.
type StaticCredentials map[string]model.ProjectCredential

func (s StaticCredentials) Resolve(_ context.Context, apiKeyID string) (model.ProjectCredential, error) {
	cred, ok := s[apiKeyID]
	if !ok {
		return model.ProjectCredential{}, ErrUnknownKey
	}
	return cred, nil
}
