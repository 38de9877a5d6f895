// Package hmacauth verifies the HMAC-SHA256 signatures clients attach to
// channel join requests, in the same constant-time-compare style as the
// teacher's bearer-token middleware, adapted to this protocol's
// api_key/timestamp/signature triple instead of a JWT.
package hmacauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Ap3pp3rs94/docsync/internal/errcodes"
	"github.com/Ap3pp3rs94/docsync/internal/model"
)

// CredentialLookup resolves an api key to its stored credential. Returns
// (zero, false, nil) if the key is unknown; a non-nil error is reserved for
// storage failures.
type CredentialLookup interface {
	FindByAPIKey(ctx context.Context, apiKey string) (model.ApiCredential, bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Verifier checks join request signatures against a credential store.
type Verifier struct {
	store  CredentialLookup
	window time.Duration
	now    func() time.Time
}

// New constructs a Verifier. window bounds how far the client timestamp may
// drift from the server clock in either direction.
func New(store CredentialLookup, window time.Duration) *Verifier {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &Verifier{store: store, window: window, now: time.Now}
}

// AuthError carries a stable wire error code alongside a human message.
type AuthError struct {
	Code errcodes.Code
	Msg  string
}

func (e *AuthError) Error() string { return e.Msg }

func authErr(code errcodes.Code, msg string) error {
	return &AuthError{Code: code, Msg: msg}
}

// Sign computes the signature a well-behaved client would send: HMAC-SHA256
// over the literal message "<ts>.<email>.<api_key>.<body>", hex-encoded,
// keyed by secret. Exported so tests and other packages can construct valid
// join requests.
func Sign(secret string, timestamp int64, email, apiKey, body string) string {
	msg := fmt.Sprintf("%d.%s.%s.%s", timestamp, email, apiKey, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify validates a join request's email/apiKey/timestamp/signature
// quadruple against the configured credential store and clock window. On
// success it returns the matched credential and touches its last_used_at
// timestamp on a best-effort basis. body defaults to "" for join requests
// that carry no payload.
func (v *Verifier) Verify(ctx context.Context, email, apiKey, timestampStr, signature, body string) (model.ApiCredential, error) {
	if email == "" || apiKey == "" || timestampStr == "" || signature == "" {
		return model.ApiCredential{}, authErr(errcodes.MissingParams, "email, api_key, timestamp and signature are all required")
	}

	ts, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return model.ApiCredential{}, authErr(errcodes.InvalidTimestamp, "timestamp must be a unix integer")
	}

	now := v.now().UTC()
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(v.window/time.Second) {
		return model.ApiCredential{}, authErr(errcodes.TimestampExpired, "timestamp outside the allowed window")
	}

	cred, ok, err := v.store.FindByAPIKey(ctx, apiKey)
	if err != nil {
		return model.ApiCredential{}, fmt.Errorf("hmacauth: lookup: %w", err)
	}
	if !ok || !cred.IsActive {
		return model.ApiCredential{}, authErr(errcodes.InvalidApiKey, "api key unknown or inactive")
	}

	expected := Sign(cred.Secret, ts, email, apiKey, body)
	if !constantTimeEqual(expected, signature) {
		return model.ApiCredential{}, authErr(errcodes.InvalidSignature, "HMAC signature did not match")
	}

	if err := v.store.TouchLastUsed(ctx, cred.ID.String(), now); err != nil {
		// best-effort: a failure to bump last_used_at never blocks a join
		_ = err
	}

	return cred, nil
}

// constantTimeEqual compares two hex signatures without leaking timing
// information through their content. Unequal lengths fail immediately
// without any byte-by-byte comparison, matching the "no iteration on
// mismatched lengths" requirement.
func constantTimeEqual(expected, given string) bool {
	if len(expected) != len(given) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(given))
}

// AsAuthError unwraps err into an *AuthError, if it is one.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
