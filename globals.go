package main

import (
	"bytes"
	"crypto/ed25519"
	"database/sql"
	"log"
	"sync"
)

// --- Configuration ---

const (
	// EpochBase anchors the 32-bit modification timestamps stored in
	// persisted chunk files. Must never change once chunks exist on disk.
	EpochBase = 1649000000

	// ModSize is the size of the trailing modification-time field of a
	// serialized chunk.
	ModSize = 4
)

type CanvasConfig struct {
	Listen          string `toml:"listen"`
	Width           int    `toml:"width"`
	Height          int    `toml:"height"`
	ChunkSize       int    `toml:"chunk_size"`
	CooldownSeconds int64  `toml:"cooldown_seconds"`

	DataDir string `toml:"data_dir"`
	PNGDir  string `toml:"png_dir"`
	LogDir  string `toml:"log_dir"`
	DBPath  string `toml:"db_path"`

	Issuer       string   `toml:"issuer"`
	CookieDomain string   `toml:"cookie_domain"`
	SiteURL      string   `toml:"site_url"`
	Colors       []string `toml:"colors"`

	// Rendered chunk images older than this and no longer referenced by
	// the manifest get swept.
	PNGRetentionSeconds int64 `toml:"png_retention_seconds"`

	Captcha struct {
		Secret    string  `toml:"secret"`
		VerifyURL string  `toml:"verify_url"`
		Hostname  string  `toml:"hostname"`
		Threshold float64 `toml:"threshold"`
	} `toml:"captcha"`
}

var Config CanvasConfig

// --- Shared State ---

var (
	// Infrastructure
	db       *sql.DB
	InfoLog  *log.Logger
	ErrorLog *log.Logger

	// Server Identity
	ServerUUID string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey

	// BootVersion is sent as X-Canvas-Version so clients can detect a
	// redeploy and refresh their full state.
	BootVersion int64

	// Core components, wired up in main
	palette   *Palette
	canvas    *ChunkStore
	publisher *SnapshotPublisher

	// Presence gauges (10 minute windows)
	viewingCache *ttlCache
	activeCache  *ttlCache

	// Pixel-info lookups hit sqlite; keep recent answers around.
	changeCache *ttlCache
	userCache   *ttlCache

	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)
