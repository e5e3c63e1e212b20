package main

// Change is one accepted placement, kept for "who painted this pixel"
// lookups only; the canvas itself is never reconstructed from history.
type Change struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"` // rrggbb, no leading #
	User  string `json:"user"`  // stripped subject uuid
	Time  int64  `json:"time"`  // epoch seconds
}

// --- API Responses ---

// HelloResponse is the canvas metadata bundle clients boot from.
type HelloResponse struct {
	W int      `json:"w"`
	H int      `json:"h"`
	C []string `json:"c"` // palette hex values, index order
	S int      `json:"s"` // chunk size
	U string   `json:"u,omitempty"`
	V int64    `json:"v"` // protocol/boot version
}

type RegisterResponse struct {
	U string `json:"u"`
}

type PlaceResponse struct {
	Next int64 `json:"next"` // epoch seconds of next allowed placement
}

type PixelInfoResponse struct {
	Mod int64  `json:"mod"`
	Usr string `json:"usr"`
	Nme string `json:"nme,omitempty"`
}

type InfoResponse struct {
	Viewing int `json:"viewing"`
	Active  int `json:"active"`
}
