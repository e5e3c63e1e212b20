package main

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultColors is the 32 color palette the canvas launched with. The
// order is part of the persisted format: chunk files store palette
// indices, so entries may be appended but never reordered or removed.
var DefaultColors = []string{
	"#ffffff",
	"#d4d7d9",
	"#898d90",
	"#515252",
	"#000000",
	"#ffb470",
	"#9c6926",
	"#6d482f",
	"#ff99aa",
	"#ff3881",
	"#de107f",
	"#e4abff",
	"#b44ac0",
	"#811e9f",
	"#94b3ff",
	"#6a5cff",
	"#493ac1",
	"#51e9f4",
	"#3690ea",
	"#2450a4",
	"#00ccc0",
	"#009eaa",
	"#00756f",
	"#7eed56",
	"#00cc78",
	"#00a368",
	"#fff8b8",
	"#ffd635",
	"#ffa800",
	"#ff4500",
	"#be0039",
	"#6d001a",
}

// Palette maps color indices to their hex and RGB representations.
type Palette struct {
	hex []string
	rgb [][3]uint8
}

func NewPalette(colors []string) (*Palette, error) {
	if len(colors) == 0 || len(colors) > 256 {
		return nil, fmt.Errorf("palette must have 1..256 colors, got %d", len(colors))
	}
	p := &Palette{
		hex: make([]string, len(colors)),
		rgb: make([][3]uint8, len(colors)),
	}
	for i, c := range colors {
		rgb, err := hexToRGB(c)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d: %w", i, err)
		}
		p.hex[i] = strings.ToLower(c)
		p.rgb[i] = rgb
	}
	return p, nil
}

func (p *Palette) Size() int { return len(p.hex) }

// Hex returns the "#rrggbb" form of an index. Callers must bounds-check
// via Valid first; out-of-range panics like any slice access.
func (p *Palette) Hex(i int) string { return p.hex[i] }

func (p *Palette) RGB(i int) [3]uint8 { return p.rgb[i] }

func (p *Palette) Valid(i int) bool { return i >= 0 && i < len(p.hex) }

// HexList returns the palette for the metadata endpoint.
func (p *Palette) HexList() []string {
	out := make([]string, len(p.hex))
	copy(out, p.hex)
	return out
}

func hexToRGB(hex string) ([3]uint8, error) {
	h := strings.TrimPrefix(strings.ToLower(hex), "#")
	if len(h) != 6 {
		return [3]uint8{}, fmt.Errorf("bad hex color %q", hex)
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		if err != nil {
			return [3]uint8{}, fmt.Errorf("bad hex color %q", hex)
		}
		rgb[i] = uint8(v)
	}
	return rgb, nil
}
