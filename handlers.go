package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Canvas Metadata ---

func handleHello(w http.ResponseWriter, r *http.Request) {
	claims, err := verifyToken(r)
	if err != nil {
		ErrorLog.Printf("hello: %v from %s", err, clientIP(r))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	userID := ""
	if claims != nil {
		if err := issueToken(w, r, claims); err != nil {
			ErrorLog.Printf("hello: reissue: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		if touchUser(stripUUID(claims.Subject)) {
			userID = claims.Subject
		} else {
			InfoLog.Printf("hello: unknown identity %s", claims.Subject)
		}
	}

	writeJSON(w, http.StatusOK, HelloResponse{
		W: Config.Width,
		H: Config.Height,
		C: palette.HexList(),
		S: Config.ChunkSize,
		U: userID,
		V: BootVersion,
	})
}

// --- Registration ---

func handleRegister(w http.ResponseWriter, r *http.Request) {
	claims, err := verifyToken(r)
	if err != nil {
		ErrorLog.Printf("register: %v from %s", err, clientIP(r))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if claims != nil && claims.Subject != "" && claims.Name != "" {
		// Already registered; re-registering would reset the cooldown.
		http.Error(w, "Already Registered", http.StatusBadRequest)
		return
	}

	verdict, err := verifyCaptcha(r)
	if err != nil {
		// Verifier down: block identity minting, existing identities
		// keep writing.
		http.Error(w, "Verification Unavailable", http.StatusServiceUnavailable)
		return
	}
	if verdict == nil {
		InfoLog.Printf("register: captcha rejected for %s", clientIP(r))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if verdict.Ambiguous() {
		InfoLog.Printf("register: low captcha score %.2f from %s", verdict.Score, clientIP(r))
	}

	prior := ""
	if claims != nil {
		prior = claims.Subject
	}
	fresh := newIdentity(prior, clientIP(r))
	if err := issueToken(w, r, fresh); err != nil {
		ErrorLog.Printf("register: issue: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	if err := insertUser(stripUUID(fresh.Subject), fresh.Name); err != nil {
		ErrorLog.Printf("register: insert %s: %v", fresh.Subject, err)
	}
	InfoLog.Printf("registered %s (%s) from %s", fresh.Subject, fresh.Name, clientIP(r))

	writeJSON(w, http.StatusOK, RegisterResponse{U: fresh.Subject})
}

// --- State / Manifest ---

func handleState(w http.ResponseWriter, r *http.Request) {
	claims, err := verifyToken(r)
	if err != nil || claims == nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := issueToken(w, r, claims); err != nil {
		ErrorLog.Printf("state: reissue: %v", err)
	}
	viewingCache.Put(stripUUID(claims.Subject), time.Now().Unix())

	w.Header().Set("Cache-Control", "max-age=1")
	writeJSON(w, http.StatusOK, publisher.Manifest())
}

func handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=120")
	writeJSON(w, http.StatusOK, InfoResponse{
		Viewing: viewingCache.Len(),
		Active:  activeCache.Len(),
	})
}

func handlePixelInfo(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(r.PathValue("y"))
	if errX != nil || errY != nil || x < 0 || y < 0 || x >= Config.Width || y >= Config.Height {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	change, err := latestChange(x, y)
	if err != nil {
		ErrorLog.Printf("pixel info (%d,%d): %v", x, y, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	if change == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, PixelInfoResponse{
		Mod: change.Time,
		Usr: userFragment(change.User),
		Nme: userName(change.User),
	})
}

// --- Placement ---

// handlePlace runs the write pipeline: shape, identity, volume gate,
// header/token agreement, bounds, fraud check, cooldown, apply, then
// reissue and respond. Fail-fast at the first violated precondition;
// everything after the ChunkStore write is post-commit and must not
// undo the pixel.
func handlePlace(w http.ResponseWriter, r *http.Request) {
	var body []int64
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) != 3 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	claims, err := verifyToken(r)
	if err != nil || claims == nil {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ip := clientIP(r)
	if !allowRoute(routePlace, ip) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// The client echoes its identity in a header; a mismatch means the
	// cookie and the client's cached identity have desynced (e.g. a
	// stale header after re-registration).
	headerUser := r.Header.Get("X-User")
	if headerUser == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if headerUser != claims.Subject {
		InfoLog.Printf("place: user mismatch header=%s token=%s", headerUser, claims.Subject)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	x, y, v := int(body[0]), int(body[1]), int(body[2])
	if x < 0 || y < 0 || x >= Config.Width || y >= Config.Height || !palette.Valid(v) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	penalty := int64(1)
	verdict, err := verifyCaptcha(r)
	switch {
	case err != nil:
		// Verifier down: an already-registered identity keeps writing,
		// just under the strict cooldown.
		penalty = ambiguousPenalty
	case verdict == nil:
		InfoLog.Printf("place: captcha rejected for %s from %s", claims.Subject, ip)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case verdict.Ambiguous():
		InfoLog.Printf("place: low captcha score %.2f for %s", verdict.Score, claims.Subject)
		penalty = ambiguousPenalty
	}

	// Cooldown gate, from the verified token only. A penalty recorded
	// at the previous placement stretches the window.
	now := time.Now().Unix()
	wait := Config.CooldownSeconds * claims.penaltyFactor()
	if now-claims.LastPlaced < wait {
		writeJSON(w, http.StatusTooManyRequests, PlaceResponse{Next: claims.LastPlaced + wait})
		return
	}

	subject := stripUUID(claims.Subject)
	if _, err := canvas.Set(x, y, byte(v), subject); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	// Persistence and snapshot publication ride the chunk's saver
	// queue; the response does not wait for disk or PNG work.

	claims.LastPlaced = now
	claims.PlaceCount++
	claims.Penalty = 0
	if penalty > 1 {
		claims.Penalty = penalty
	}
	if err := issueToken(w, r, claims); err != nil {
		ErrorLog.Printf("place: reissue for %s: %v", claims.Subject, err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	go recordChange(Change{
		X:     x,
		Y:     y,
		Color: palette.Hex(v)[1:],
		User:  subject,
		Time:  now,
	})
	go touchUser(subject)
	activeCache.Put(subject, now)

	writeJSON(w, http.StatusOK, PlaceResponse{Next: now + Config.CooldownSeconds*penalty})
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, Config.SiteURL, http.StatusFound)
}
