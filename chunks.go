package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrOutOfBounds  = errors.New("coordinates outside canvas")
	ErrInvalidColor = errors.New("color index outside palette")
	ErrCorruptChunk = errors.New("persisted chunk unreadable")
)

// Chunk is a fixed-size sub-grid of the canvas and the unit of
// persistence and snapshot regeneration. The mutex guards only the
// in-memory byte update; disk and PNG work happen on the saver
// goroutine from a copy.
type Chunk struct {
	mu       sync.Mutex
	pixels   []byte // size*size palette indices, row-major
	modified int64  // unix seconds of the most recent accepted write
	writer   string // subject id of the most recent writer, audit only

	// flush is a buffered(1) signal to the chunk's saver. Multiple
	// writes coalesce into one flush of the latest state, which keeps
	// per-chunk write order trivially: a single goroutine serializes
	// whatever is current.
	flush chan struct{}
}

type ChunkStore struct {
	width, height int
	size          int // chunk side length, divides width and height
	cols, rows    int
	paletteSize   int
	dataDir       string
	chunks        [][]*Chunk // indexed [cx][cy]

	// onFlush runs after a successful persist, with a consistent copy of
	// the chunk. The publisher hangs its PNG rendering off this.
	onFlush func(cx, cy int, pixels []byte, modified int64)

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewChunkStore(width, height, size, paletteSize int, dataDir string) (*ChunkStore, error) {
	if size <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("bad canvas dimensions %dx%d chunk %d", width, height, size)
	}
	if width%size != 0 || height%size != 0 {
		return nil, fmt.Errorf("chunk size %d must divide canvas %dx%d", size, width, height)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	s := &ChunkStore{
		width: width, height: height, size: size,
		cols: width / size, rows: height / size,
		paletteSize: paletteSize,
		dataDir:     dataDir,
		quit:        make(chan struct{}),
	}
	s.chunks = make([][]*Chunk, s.cols)
	for cx := 0; cx < s.cols; cx++ {
		s.chunks[cx] = make([]*Chunk, s.rows)
		for cy := 0; cy < s.rows; cy++ {
			s.chunks[cx][cy] = s.loadChunk(cx, cy)
		}
	}
	return s, nil
}

func (s *ChunkStore) Cols() int { return s.cols }
func (s *ChunkStore) Rows() int { return s.rows }

func (s *ChunkStore) chunkPath(cx, cy int) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("c_%d_%d.bin", cx, cy))
}

func (s *ChunkStore) blankChunk() *Chunk {
	return &Chunk{
		pixels:   make([]byte, s.size*s.size),
		modified: time.Now().Unix(),
		flush:    make(chan struct{}, 1),
	}
}

// loadChunk reads a persisted chunk file. A missing file is a fresh
// region; an unreadable one is logged and replaced with a blank chunk so
// a single corrupt file never takes the process down.
func (s *ChunkStore) loadChunk(cx, cy int) *Chunk {
	path := s.chunkPath(cx, cy)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			ErrorLog.Printf("chunk %d,%d: read: %v", cx, cy, err)
		}
		return s.blankChunk()
	}

	// Keep a compressed backup of whatever we booted from. Write-once,
	// never read by the server; operators restore from these by hand.
	bck := fmt.Sprintf("%s.%d.bck.lz4", path, time.Now().Unix())
	if err := os.WriteFile(bck, compressLZ4(raw), 0644); err != nil {
		ErrorLog.Printf("chunk %d,%d: backup: %v", cx, cy, err)
	}

	pixels, modified, err := deserializeChunk(raw, s.size, s.paletteSize)
	if err != nil {
		ErrorLog.Printf("chunk %d,%d: %v, starting blank", cx, cy, err)
		return s.blankChunk()
	}
	c := s.blankChunk()
	c.pixels = pixels
	if modified > 0 {
		c.modified = modified
	}
	return c
}

// Start launches one saver goroutine per chunk. hook may be nil.
func (s *ChunkStore) Start(hook func(cx, cy int, pixels []byte, modified int64)) {
	s.onFlush = hook
	for cx := 0; cx < s.cols; cx++ {
		for cy := 0; cy < s.rows; cy++ {
			s.wg.Add(1)
			go s.saver(cx, cy)
		}
	}
}

func (s *ChunkStore) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *ChunkStore) locate(x, y int) (c *Chunk, idx int, err error) {
	if x < 0 || y < 0 || x >= s.width || y >= s.height {
		return nil, 0, ErrOutOfBounds
	}
	c = s.chunks[x/s.size][y/s.size]
	idx = (y%s.size)*s.size + (x % s.size)
	return c, idx, nil
}

func (s *ChunkStore) Get(x, y int) (byte, error) {
	c, idx, err := s.locate(x, y)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	v := c.pixels[idx]
	c.mu.Unlock()
	return v, nil
}

// Set writes one pixel and returns the previous index. The owning chunk
// is marked for background persistence and snapshot regeneration.
func (s *ChunkStore) Set(x, y int, color byte, writer string) (byte, error) {
	if int(color) >= s.paletteSize {
		return 0, ErrInvalidColor
	}
	c, idx, err := s.locate(x, y)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	prev := c.pixels[idx]
	c.pixels[idx] = color
	c.modified = time.Now().Unix()
	c.writer = writer
	c.mu.Unlock()

	select {
	case c.flush <- struct{}{}:
	default:
	}
	return prev, nil
}

// CopyPixels returns a consistent snapshot of a chunk's pixels and its
// modification time.
func (s *ChunkStore) CopyPixels(cx, cy int) ([]byte, int64) {
	c := s.chunks[cx][cy]
	c.mu.Lock()
	out := make([]byte, len(c.pixels))
	copy(out, c.pixels)
	mod := c.modified
	c.mu.Unlock()
	return out, mod
}

func (s *ChunkStore) Modified(cx, cy int) int64 {
	c := s.chunks[cx][cy]
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modified
}

func (s *ChunkStore) saver(cx, cy int) {
	defer s.wg.Done()
	c := s.chunks[cx][cy]
	for {
		select {
		case <-s.quit:
			return
		case <-c.flush:
			if err := s.Persist(cx, cy); err != nil {
				ErrorLog.Printf("chunk %d,%d: persist: %v", cx, cy, err)
				// Memory stays the source of truth; re-arm and retry
				// after a beat rather than dropping the flush.
				time.Sleep(time.Second)
				select {
				case c.flush <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Persist serializes, compresses and durably replaces the chunk file,
// then hands the same snapshot to the publish hook.
func (s *ChunkStore) Persist(cx, cy int) error {
	pixels, modified := s.CopyPixels(cx, cy)
	raw := serializeChunk(pixels, modified)

	path := s.chunkPath(cx, cy)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, deflateBytes(raw), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	if s.onFlush != nil {
		s.onFlush(cx, cy, pixels, modified)
	}
	return nil
}

// --- Wire Format ---

// serializeChunk lays out [size*size index bytes][uint32 LE seconds
// since EpochBase]. The epoch offset keeps the timestamp in 32 bits
// with a comfortable margin.
func serializeChunk(pixels []byte, modified int64) []byte {
	out := make([]byte, len(pixels)+ModSize)
	copy(out, pixels)
	delta := modified - EpochBase
	if delta < 0 {
		delta = 0
	}
	binary.LittleEndian.PutUint32(out[len(pixels):], uint32(delta))
	return out
}

// deserializeChunk inverts serializeChunk. Files written before the
// format grew its trailing timestamp are accepted with modified == 0;
// the caller substitutes load time. Any out-of-range palette index
// means the file is not trustworthy as a whole.
func deserializeChunk(compressed []byte, size, paletteSize int) (pixels []byte, modified int64, err error) {
	raw, err := inflateBytes(compressed)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	n := size * size
	if len(raw) < n {
		return nil, 0, fmt.Errorf("%w: %d bytes, want at least %d", ErrCorruptChunk, len(raw), n)
	}
	pixels = raw[:n]
	for i, v := range pixels {
		if int(v) >= paletteSize {
			return nil, 0, fmt.Errorf("%w: index %d at offset %d", ErrCorruptChunk, v, i)
		}
	}
	if len(raw) >= n+ModSize {
		modified = EpochBase + int64(binary.LittleEndian.Uint32(raw[n:n+ModSize]))
	}
	return pixels, modified, nil
}
