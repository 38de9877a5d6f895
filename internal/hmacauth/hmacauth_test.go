package hmacauth

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/docsync/internal/errcodes"
	"github.com/Ap3pp3rs94/docsync/internal/model"
	"github.com/google/uuid"
)

type fakeStore struct {
	byKey map[string]model.ApiCredential
}

func (f *fakeStore) FindByAPIKey(ctx context.Context, apiKey string) (model.ApiCredential, bool, error) {
	c, ok := f.byKey[apiKey]
	return c, ok, nil
}

func (f *fakeStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return nil
}

func newFixture() (*Verifier, model.ApiCredential, time.Time) {
	cred := model.ApiCredential{
		ID:       uuid.New(),
		ApiKey:   "rpa_" + "a0b1c2d3e4f5061728394a5b6c7d8e9f00112233445566778899aabbccddeeff",
		Secret:   "rps_topsecret",
		IsActive: true,
	}
	store := &fakeStore{byKey: map[string]model.ApiCredential{cred.ApiKey: cred}}
	now := time.Unix(1_700_000_000, 0).UTC()
	v := New(store, 300*time.Second)
	v.now = func() time.Time { return now }
	return v, cred, now
}

func TestVerifySuccess(t *testing.T) {
	v, cred, now := newFixture()
	sig := Sign(cred.Secret, now.Unix(), "user@example.com", cred.ApiKey, "")

	got, err := v.Verify(context.Background(), "user@example.com", cred.ApiKey, itoa(now.Unix()), sig, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != cred.ID {
		t.Fatalf("unexpected credential: %+v", got)
	}
}

func TestVerifyMissingParams(t *testing.T) {
	v, _, _ := newFixture()
	_, err := v.Verify(context.Background(), "", "k", "1", "s", "")
	assertCode(t, err, errcodes.MissingParams)
}

func TestVerifyInvalidTimestamp(t *testing.T) {
	v, cred, _ := newFixture()
	_, err := v.Verify(context.Background(), "u@e.com", cred.ApiKey, "not-a-number", "sig", "")
	assertCode(t, err, errcodes.InvalidTimestamp)
}

func TestVerifyTimestampExpiredAtBoundary(t *testing.T) {
	v, cred, now := newFixture()

	okTs := now.Unix() - 300
	sig := Sign(cred.Secret, okTs, "u@e.com", cred.ApiKey, "")
	if _, err := v.Verify(context.Background(), "u@e.com", cred.ApiKey, itoa(okTs), sig, ""); err != nil {
		t.Fatalf("expected 300s skew accepted, got %v", err)
	}

	badTs := now.Unix() - 301
	sig2 := Sign(cred.Secret, badTs, "u@e.com", cred.ApiKey, "")
	_, err := v.Verify(context.Background(), "u@e.com", cred.ApiKey, itoa(badTs), sig2, "")
	assertCode(t, err, errcodes.TimestampExpired)
}

func TestVerifyUnknownAPIKeyDeniedBeforeSignatureCheck(t *testing.T) {
	v, _, now := newFixture()
	_, err := v.Verify(context.Background(), "u@e.com", "rpa_unknown", itoa(now.Unix()), "garbage-signature", "")
	assertCode(t, err, errcodes.InvalidApiKey)
}

func TestVerifyInvalidSignature(t *testing.T) {
	v, cred, now := newFixture()
	_, err := v.Verify(context.Background(), "u@e.com", cred.ApiKey, itoa(now.Unix()), "0000", "")
	assertCode(t, err, errcodes.InvalidSignature)
}

func TestSignDeterministic(t *testing.T) {
	a := Sign("secret", 1700000000, "u@e.com", "rpa_x", "")
	b := Sign("secret", 1700000000, "u@e.com", "rpa_x", "")
	if a != b {
		t.Fatalf("expected deterministic signature")
	}
	c := Sign("secret", 1700000001, "u@e.com", "rpa_x", "")
	if a == c {
		t.Fatalf("expected different signature for different timestamp")
	}
}

func assertCode(t *testing.T, err error, want errcodes.Code) {
	t.Helper()
	ae, ok := AsAuthError(err)
	if !ok {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if ae.Code != want {
		t.Fatalf("expected code %s, got %s", want, ae.Code)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
