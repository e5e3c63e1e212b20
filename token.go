package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	cookieName = "access_token"

	// Identities are long-lived; expiry exists so abandoned cookies
	// eventually cycle out, not as a security boundary.
	tokenValidity = 365 * 24 * time.Hour

	// ambiguousPenalty stretches the cooldown when the fraud check
	// scored low or was unreachable. Applied to the next window, never
	// as a hard rejection.
	ambiguousPenalty = 5
)

var ErrTokenInvalid = errors.New("invalid identity token")

// CanvasClaims is the whole server-side session: everything the write
// path needs rides in the signed cookie, so no session table exists and
// any instance holding the key can serve any client.
type CanvasClaims struct {
	LastPlaced int64  `json:"lst"`           // epoch seconds of most recent accepted placement
	PlaceCount int64  `json:"cnt"`           // total accepted placements
	Name       string `json:"nme,omitempty"` // generated display name
	IP         string `json:"ip,omitempty"`  // last-seen IP, anomaly logging only
	Penalty    int64  `json:"pen,omitempty"` // cooldown multiplier set by the fraud check
	jwt.RegisteredClaims
}

// penaltyFactor is the multiplier the cooldown gate applies. Zero means
// no penalty recorded.
func (c *CanvasClaims) penaltyFactor() int64 {
	if c.Penalty > 1 {
		return c.Penalty
	}
	return 1
}

// verifyToken returns (nil, nil) when no cookie is present: "no
// identity yet" is a distinct state from a tampered or expired token,
// which the caller must treat as no identity but never as a different
// one.
func verifyToken(r *http.Request) (*CanvasClaims, error) {
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	claims := &CanvasClaims{}
	tok, err := jwt.ParseWithClaims(cookie.Value, claims,
		func(t *jwt.Token) (interface{}, error) { return PublicKey, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(Config.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.ID == "" || claims.LastPlaced == 0 {
		return nil, ErrTokenInvalid
	}

	if ip := clientIP(r); claims.IP != "" && claims.IP != ip {
		// Mobile clients roam; log, don't reject.
		InfoLog.Printf("%s changed ip %s -> %s", claims.Subject, claims.IP, ip)
	}
	return claims, nil
}

// issueToken re-signs the claims and refreshes the cookie. Called on
// every interaction, so expiry slides as long as the client keeps
// showing up. Stale exp/iat are overwritten before signing; carrying an
// old exp through a reissue would silently truncate the session.
func issueToken(w http.ResponseWriter, r *http.Request, claims *CanvasClaims) error {
	now := time.Now()
	claims.IP = clientIP(r)
	claims.Issuer = Config.Issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(tokenValidity))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(PrivateKey)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Domain:   Config.CookieDomain,
		Path:     "/",
		MaxAge:   int(tokenValidity / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// newIdentity mints a registered identity. LastPlaced is back-dated a
// full cooldown so the first placement is allowed immediately.
func newIdentity(subject, ip string) *CanvasClaims {
	if subject == "" {
		subject = uuid.NewString()
	}
	return &CanvasClaims{
		LastPlaced: time.Now().Unix() - Config.CooldownSeconds,
		PlaceCount: 0,
		Name:       makeName(),
		IP:         ip,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
			ID:      uuid.NewString(),
		},
	}
}
