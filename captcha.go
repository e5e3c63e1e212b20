package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// The fraud-check collaborator scores a request's likely-human-ness.
// It is consulted at registration and at placement; policy for the
// three outcomes (verified, low score, unreachable) lives with the
// callers in handlers.go.

var errCaptchaUnavailable = errors.New("captcha verifier unreachable")

type captchaVerdict struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	Score       float64  `json:"score"`
	ErrorCodes  []string `json:"error-codes"`
}

// Ambiguous reports a verified-but-unconvincing score. Graceful
// degradation: the caller lengthens the cooldown instead of blocking a
// possibly good-faith client on an imperfect signal.
func (v *captchaVerdict) Ambiguous() bool {
	return v.Score < Config.Captcha.Threshold
}

var captchaClient = &http.Client{Timeout: 5 * time.Second}

// verifyCaptcha checks the X-Captcha-Token header against the external
// verifier. Returns (nil, nil) when the token is missing or rejected,
// and errCaptchaUnavailable when the verifier cannot be reached within
// its deadline.
func verifyCaptcha(r *http.Request) (*captchaVerdict, error) {
	token := r.Header.Get("X-Captcha-Token")
	if token == "" {
		return nil, nil
	}

	form := url.Values{
		"secret":   {Config.Captcha.Secret},
		"response": {token},
		"remoteip": {clientIP(r)},
	}
	resp, err := captchaClient.PostForm(Config.Captcha.VerifyURL, form)
	if err != nil {
		ErrorLog.Printf("captcha verify: %v", err)
		return nil, errCaptchaUnavailable
	}
	defer resp.Body.Close()

	var verdict captchaVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		ErrorLog.Printf("captcha verify: decode: %v", err)
		return nil, errCaptchaUnavailable
	}

	if Config.Captcha.Hostname != "" && !strings.EqualFold(verdict.Hostname, Config.Captcha.Hostname) {
		InfoLog.Printf("captcha token for foreign hostname %q from %s", verdict.Hostname, clientIP(r))
		return nil, nil
	}
	if !verdict.Success {
		return nil, nil
	}
	return &verdict, nil
}
