package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func tokenCookie(v string) *http.Cookie {
	return &http.Cookie{Name: cookieName, Value: v}
}

func TestVerifyRoundTrip(t *testing.T) {
	setupTestEnv(t)

	claims := newIdentity("", "10.9.0.1")
	req := httptest.NewRequest("GET", "/hello", nil)
	req.RemoteAddr = "10.9.0.1:40000"
	rr := httptest.NewRecorder()
	if err := issueToken(rr, req, claims); err != nil {
		t.Fatalf("issue: %v", err)
	}

	req2 := httptest.NewRequest("GET", "/hello", nil)
	req2.RemoteAddr = "10.9.0.1:40000"
	for _, c := range rr.Result().Cookies() {
		req2.AddCookie(c)
	}
	got, err := verifyToken(req2)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got == nil || got.Subject != claims.Subject {
		t.Errorf("subject did not survive the round trip")
	}
	if got.Name != claims.Name || got.PlaceCount != 0 {
		t.Errorf("claims mangled: %+v", got)
	}
}

func TestVerifyNoCookieMeansNoIdentity(t *testing.T) {
	setupTestEnv(t)

	req := httptest.NewRequest("GET", "/hello", nil)
	claims, err := verifyToken(req)
	if err != nil || claims != nil {
		t.Errorf("absent cookie should be (nil, nil), got (%v, %v)", claims, err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	setupTestEnv(t)

	token := signTestToken(t, newIdentity("", "10.9.0.2"))

	// Flip a character in the payload segment.
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	parts[1] = string(payload)
	tampered := strings.Join(parts, ".")

	req := httptest.NewRequest("GET", "/hello", nil)
	req.AddCookie(tokenCookie(tampered))
	if _, err := verifyToken(req); err != ErrTokenInvalid {
		t.Errorf("tampered token: got %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	setupTestEnv(t)

	claims := newIdentity("", "10.9.0.3")
	claims.Issuer = Config.Issuer
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * tokenValidity))
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := signTestToken(t, claims)

	req := httptest.NewRequest("GET", "/hello", nil)
	req.AddCookie(tokenCookie(token))
	if _, err := verifyToken(req); err != ErrTokenInvalid {
		t.Errorf("expired token: got %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	setupTestEnv(t)

	claims := newIdentity("", "10.9.0.4")
	claims.Issuer = "https://somewhere-else.example"
	token := signTestToken(t, claims)

	req := httptest.NewRequest("GET", "/hello", nil)
	req.AddCookie(tokenCookie(token))
	if _, err := verifyToken(req); err != ErrTokenInvalid {
		t.Errorf("wrong issuer: got %v, want ErrTokenInvalid", err)
	}
}

func TestReissuePreservesSubjectAndRefreshesExpiry(t *testing.T) {
	setupTestEnv(t)

	claims := newIdentity("", "10.9.0.5")
	subject := claims.Subject

	// Simulate a stale expiry from a previous issue.
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Minute))
	claims.LastPlaced = time.Now().Unix()
	claims.PlaceCount = 7

	req := httptest.NewRequest("GET", "/place", nil)
	req.RemoteAddr = "10.9.0.6:40000" // roamed
	rr := httptest.NewRecorder()
	if err := issueToken(rr, req, claims); err != nil {
		t.Fatalf("reissue: %v", err)
	}

	got := &CanvasClaims{}
	_, err := jwt.ParseWithClaims(rr.Result().Cookies()[0].Value, got,
		func(tok *jwt.Token) (interface{}, error) { return PublicKey, nil })
	if err != nil {
		t.Fatalf("parse reissued: %v", err)
	}
	if got.Subject != subject {
		t.Error("subject changed across reissue")
	}
	if got.PlaceCount != 7 {
		t.Errorf("place count %d, want 7", got.PlaceCount)
	}
	if got.IP != "10.9.0.6" {
		t.Errorf("ip claim %q not refreshed", got.IP)
	}
	// The stale one-minute expiry must have been replaced, not carried.
	if got.ExpiresAt.Time.Before(time.Now().Add(300 * 24 * time.Hour)) {
		t.Errorf("expiry %v was not refreshed", got.ExpiresAt.Time)
	}
}

func TestFreshIdentityMayPlaceImmediately(t *testing.T) {
	setupTestEnv(t)

	claims := newIdentity("", "10.9.0.7")
	now := time.Now().Unix()
	if now-claims.LastPlaced < Config.CooldownSeconds {
		t.Errorf("fresh identity lst=%d does not clear the cooldown at %d", claims.LastPlaced, now)
	}
}
