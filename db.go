package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func initDB() {
	os.MkdirAll(filepath.Dir(Config.DBPath), 0755)

	var err error
	db, err = sql.Open("sqlite3", Config.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		panic(err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")

	if _, err := db.Exec(historySchema); err != nil {
		panic(err)
	}

	initIdentity()
}

const historySchema = `
CREATE TABLE IF NOT EXISTS system_meta (key TEXT PRIMARY KEY, value TEXT);

CREATE TABLE IF NOT EXISTS users (
	uuid TEXT PRIMARY KEY,
	name TEXT,
	created INTEGER,
	used INTEGER
);

CREATE TABLE IF NOT EXISTS changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	x INTEGER, y INTEGER,
	color TEXT,
	user TEXT,
	time INTEGER
);
CREATE INDEX IF NOT EXISTS idx_changes_xy ON changes (x, y, time DESC);
`

// initIdentity loads or mints the server's signing identity. The
// ed25519 pair signs every identity token, so losing it invalidates all
// outstanding cookies; it lives in system_meta next to the data it
// protects.
func initIdentity() {
	var uuid string
	err := db.QueryRow("SELECT value FROM system_meta WHERE key='server_uuid'").Scan(&uuid)

	if err == sql.ErrNoRows {
		InfoLog.Println("FIRST BOOT: generating server identity")

		pub, priv, _ := ed25519.GenerateKey(rand.Reader)

		rndBytes := make([]byte, 8)
		rand.Read(rndBytes)
		genesisData := fmt.Sprintf("GENESIS-%d-%x", time.Now().UnixNano(), rndBytes)
		uuid = hashBLAKE3([]byte(genesisData))

		tx, _ := db.Begin()
		tx.Exec("INSERT INTO system_meta (key, value) VALUES ('server_uuid', ?)", uuid)
		tx.Exec("INSERT INTO system_meta (key, value) VALUES ('priv_key', ?)", hex.EncodeToString(priv))
		tx.Exec("INSERT INTO system_meta (key, value) VALUES ('pub_key', ?)", hex.EncodeToString(pub))
		tx.Commit()

		PrivateKey = priv
		PublicKey = pub
	} else {
		var privHex, pubHex string
		db.QueryRow("SELECT value FROM system_meta WHERE key='priv_key'").Scan(&privHex)
		db.QueryRow("SELECT value FROM system_meta WHERE key='pub_key'").Scan(&pubHex)
		privBytes, _ := hex.DecodeString(privHex)
		pubBytes, _ := hex.DecodeString(pubHex)
		PrivateKey = ed25519.PrivateKey(privBytes)
		PublicKey = ed25519.PublicKey(pubBytes)
	}
	ServerUUID = uuid
	InfoLog.Printf("signing key fingerprint %s", hashBLAKE3(PublicKey)[:16])
}

// --- Change History ---

// recordChange appends one accepted placement. Best-effort: the pixel
// is already applied and must not be rolled back if history is down.
func recordChange(c Change) {
	_, err := db.Exec("INSERT INTO changes (x, y, color, user, time) VALUES (?,?,?,?,?)",
		c.X, c.Y, c.Color, c.User, c.Time)
	if err != nil {
		ErrorLog.Printf("change record (%d,%d): %v", c.X, c.Y, err)
		return
	}
	changeCache.Put(changeKey(c.X, c.Y), &c)
}

func changeKey(x, y int) string {
	return fmt.Sprintf("%d,%d", x, y)
}

// latestChange answers "who painted this pixel". (nil, nil) when the
// pixel was never painted.
func latestChange(x, y int) (*Change, error) {
	if cached, ok := changeCache.Get(changeKey(x, y)); ok {
		return cached.(*Change), nil
	}
	c := &Change{}
	err := db.QueryRow("SELECT x, y, color, user, time FROM changes WHERE x=? AND y=? ORDER BY time DESC, id DESC LIMIT 1",
		x, y).Scan(&c.X, &c.Y, &c.Color, &c.User, &c.Time)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	changeCache.Put(changeKey(x, y), c)
	return c, nil
}

// --- Identity Registry ---

func insertUser(uuid, name string) error {
	now := time.Now().Unix()
	_, err := db.Exec("INSERT OR REPLACE INTO users (uuid, name, created, used) VALUES (?,?,?,?)",
		uuid, name, now, now)
	return err
}

// touchUser bumps the last-used timestamp; reports whether the identity
// is actually known (a valid token for a purged row means re-register).
func touchUser(uuid string) bool {
	res, err := db.Exec("UPDATE users SET used=? WHERE uuid=?", time.Now().Unix(), uuid)
	if err != nil {
		ErrorLog.Printf("touch user %s: %v", uuid, err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func userName(uuid string) string {
	if cached, ok := userCache.Get(uuid); ok {
		return cached.(string)
	}
	var name string
	err := db.QueryRow("SELECT name FROM users WHERE uuid=?", uuid).Scan(&name)
	if err != nil {
		return ""
	}
	userCache.Put(uuid, name)
	return name
}
