package main

import (
	"bytes"
	"encoding/hex"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

func setupLogging() {
	logDir := Config.LogDir
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		os.MkdirAll(logDir, 0755)
	}
	fInfo, _ := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	fErr, _ := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	mwInfo := io.MultiWriter(os.Stdout, fInfo)
	mwErr := io.MultiWriter(os.Stderr, fErr)
	InfoLog = log.New(mwInfo, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(mwErr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

// --- Compression Helpers ---

// deflateBytes compresses with zlib; this is the on-disk chunk format.
func deflateBytes(src []byte) []byte {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	zw := zlib.NewWriter(buf)
	zw.Write(src)
	zw.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func inflateBytes(src []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// compressLZ4 is used for the pre-load backup copies of chunk files,
// which are write-once and never read by the server itself.
func compressLZ4(src []byte) []byte {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	zw := lz4.NewWriter(buf)
	zw.Write(src)
	zw.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func hashBLAKE3(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// --- Identity Helpers ---

func stripUUID(u string) string {
	return strings.ReplaceAll(u, "-", "")
}

// userFragment is the public slice of a stripped subject id shown on
// pixel-info lookups. Enough to tell writers apart, not enough to forge.
func userFragment(u string) string {
	s := stripUUID(u)
	if len(s) < 24 {
		return s
	}
	return s[8:24]
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// --- TTL Cache ---

type cacheEntry struct {
	val     interface{}
	expires time.Time
}

// ttlCache is a small expiring map. Used for the presence gauges and
// the pixel-info lookup cache; nothing here warrants an external store.
type ttlCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]cacheEntry
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, m: make(map[string]cacheEntry)}
}

func (c *ttlCache) Put(key string, val interface{}) {
	c.mu.Lock()
	c.m[key] = cacheEntry{val: val, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.m, key)
		return nil, false
	}
	return e.val, true
}

func (c *ttlCache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len counts live entries and drops expired ones on the way.
func (c *ttlCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	n := 0
	for k, e := range c.m {
		if now.After(e.expires) {
			delete(c.m, k)
			continue
		}
		n++
	}
	return n
}

// --- Middleware ---

func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", Config.SiteURL)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Canvas-Version")
		if r.Method == "OPTIONS" {
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT")
			w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Accept, Content-Type, Origin, X-User, X-Captcha-Token")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func middlewareVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Canvas-Version", strconv.FormatInt(BootVersion, 10))
		next.ServeHTTP(w, r)
	})
}
