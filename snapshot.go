package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// SnapshotPublisher turns dirty chunks into rasterized PNGs and keeps
// the manifest of "current image per chunk" that clients poll. The
// manifest is replaced wholesale on every publish (copy-on-write) so
// readers never block.
type SnapshotPublisher struct {
	pngDir     string
	palette    *Palette
	size       int
	cols, rows int

	mu        sync.Mutex // guards published + manifest rebuild
	published [][]int64  // timestamp encoded in each chunk's current filename
	manifest  atomic.Value
}

func NewSnapshotPublisher(pal *Palette, size, cols, rows int, pngDir string) (*SnapshotPublisher, error) {
	if err := os.MkdirAll(pngDir, 0755); err != nil {
		return nil, err
	}
	p := &SnapshotPublisher{
		pngDir:  pngDir,
		palette: pal,
		size:    size,
		cols:    cols,
		rows:    rows,
	}
	p.published = make([][]int64, cols)
	for cx := range p.published {
		p.published[cx] = make([]int64, rows)
	}
	p.manifest.Store([]string{})
	return p, nil
}

func chunkImageName(modified int64, cx, cy int) string {
	return fmt.Sprintf("c_%d_%d-%d.png", modified, cx, cy)
}

// Publish renders a chunk snapshot and swaps a new manifest in. The
// filename carries the modification time, so clients detect new
// versions purely by comparing names.
func (p *SnapshotPublisher) Publish(cx, cy int, pixels []byte, modified int64) {
	img := image.NewNRGBA(image.Rect(0, 0, p.size, p.size))
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			rgb := p.palette.RGB(int(pixels[y*p.size+x]))
			img.SetNRGBA(x, y, color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
		}
	}

	name := chunkImageName(modified, cx, cy)
	path := filepath.Join(p.pngDir, name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		ErrorLog.Printf("snapshot %d,%d: %v", cx, cy, err)
		return
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		ErrorLog.Printf("snapshot %d,%d: encode: %v", cx, cy, err)
		return
	}
	f.Close()
	if err := os.Rename(tmp, path); err != nil {
		ErrorLog.Printf("snapshot %d,%d: %v", cx, cy, err)
		return
	}

	p.mu.Lock()
	p.published[cx][cy] = modified
	p.storeManifestLocked()
	p.mu.Unlock()
}

// PublishAll renders every chunk, so the manifest never references an
// image that does not exist (fresh boot, swept files).
func (p *SnapshotPublisher) PublishAll(s *ChunkStore) {
	for cx := 0; cx < p.cols; cx++ {
		for cy := 0; cy < p.rows; cy++ {
			pixels, modified := s.CopyPixels(cx, cy)
			p.Publish(cx, cy, pixels, modified)
		}
	}
}

func (p *SnapshotPublisher) storeManifestLocked() {
	list := make([]string, 0, p.cols*p.rows)
	for cx := 0; cx < p.cols; cx++ {
		for cy := 0; cy < p.rows; cy++ {
			list = append(list, chunkImageName(p.published[cx][cy], cx, cy))
		}
	}
	p.manifest.Store(list)
}

// Manifest is a lock-free read of the latest published list. Callers
// must treat the slice as immutable.
func (p *SnapshotPublisher) Manifest() []string {
	return p.manifest.Load().([]string)
}

// SweepLoop deletes rendered images that fell out of the manifest and
// are older than the retention window. Stale versions are harmless in
// the meantime; clients only ever ask for manifest names.
func (p *SnapshotPublisher) SweepLoop(quit <-chan struct{}, retention time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			p.sweep(retention)
		}
	}
}

func (p *SnapshotPublisher) sweep(retention time.Duration) {
	current := make(map[string]bool)
	for _, name := range p.Manifest() {
		current[name] = true
	}
	entries, err := os.ReadDir(p.pngDir)
	if err != nil {
		ErrorLog.Printf("sweep: %v", err)
		return
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if current[name] || filepath.Ext(name) != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(p.pngDir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		InfoLog.Printf("swept %d stale chunk images", removed)
	}
}
