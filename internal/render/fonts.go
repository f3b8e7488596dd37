package render

import (
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// UnicodeFamily is the embedded TrueType family. Styles may name it directly;
// text a core font cannot encode falls back to it.
const UnicodeFamily = "DejaVu"

// ErrUnsupportedText marks text with characters no available font can draw.
var ErrUnsupportedText = errors.New("render: unsupported character")

//go:embed fonts/*.ttf
var fontFiles embed.FS

var faceFiles = map[string]string{
	"":   "fonts/DejaVuSansCondensed.ttf",
	"B":  "fonts/DejaVuSansCondensed-Bold.ttf",
	"I":  "fonts/DejaVuSansCondensed-Oblique.ttf",
	"BI": "fonts/DejaVuSansCondensed-BoldOblique.ttf",
}

type face struct {
	ttf    []byte
	covers []bool
}

func (f *face) has(r rune) bool {
	return r >= 0 && int(r) < len(f.covers) && f.covers[r]
}

var faces = struct {
	sync.Mutex
	m map[string]*face
}{m: make(map[string]*face)}

// faceStyle maps a rule style onto an embedded face; underline is drawn, not
// loaded.
func faceStyle(style string) string {
	s := strings.ReplaceAll(strings.ToUpper(style), "U", "")
	if s == "IB" {
		s = "BI"
	}
	return s
}

func unicodeFace(style string) (*face, error) {
	key := faceStyle(style)
	faces.Lock()
	defer faces.Unlock()
	if f, ok := faces.m[key]; ok {
		return f, nil
	}
	name, ok := faceFiles[key]
	if !ok {
		return nil, fmt.Errorf("render: no %s face for style %q", UnicodeFamily, style)
	}
	ttf, err := fontFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("render: read %s: %w", name, err)
	}
	covers, err := cmapCoverage(ttf)
	if err != nil {
		return nil, fmt.Errorf("render: %s: %w", name, err)
	}
	f := &face{ttf: ttf, covers: covers}
	faces.m[key] = f
	return f, nil
}

var errBadFont = errors.New("malformed font")

// cmapCoverage reads the Windows BMP (3,1) format 4 character map, the one
// fpdf draws UTF-8 text with, and reports which runes map to a glyph.
func cmapCoverage(ttf []byte) ([]bool, error) {
	u16 := func(off int) (int, bool) {
		if off < 0 || off+2 > len(ttf) {
			return 0, false
		}
		return int(binary.BigEndian.Uint16(ttf[off:])), true
	}
	u32 := func(off int) (int, bool) {
		if off < 0 || off+4 > len(ttf) {
			return 0, false
		}
		return int(binary.BigEndian.Uint32(ttf[off:])), true
	}

	numTables, ok := u16(4)
	if !ok {
		return nil, errBadFont
	}
	cmap := -1
	for i := 0; i < numTables; i++ {
		rec := 12 + 16*i
		if rec+16 > len(ttf) {
			return nil, errBadFont
		}
		if string(ttf[rec:rec+4]) == "cmap" {
			cmap, _ = u32(rec + 8)
			break
		}
	}
	if cmap < 0 {
		return nil, fmt.Errorf("%w: no cmap table", errBadFont)
	}

	n, ok := u16(cmap + 2)
	if !ok {
		return nil, errBadFont
	}
	sub := -1
	for i := 0; i < n; i++ {
		rec := cmap + 4 + 8*i
		platform, ok1 := u16(rec)
		encoding, ok2 := u16(rec + 2)
		off, ok3 := u32(rec + 4)
		if !ok1 || !ok2 || !ok3 {
			return nil, errBadFont
		}
		if platform == 3 && encoding == 1 {
			sub = cmap + off
			break
		}
	}
	if format, ok := u16(sub); sub < 0 || !ok || format != 4 {
		return nil, fmt.Errorf("%w: no format 4 unicode cmap", errBadFont)
	}

	segX2, ok := u16(sub + 6)
	if !ok {
		return nil, errBadFont
	}
	ends := sub + 14
	starts := ends + segX2 + 2
	deltas := starts + segX2
	offsets := deltas + segX2

	covers := make([]bool, 1<<16)
	for i := 0; i < segX2/2; i++ {
		end, ok1 := u16(ends + 2*i)
		start, ok2 := u16(starts + 2*i)
		delta, ok3 := u16(deltas + 2*i)
		ro, ok4 := u16(offsets + 2*i)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, errBadFont
		}
		for ch := start; ch <= end && ch < 0xFFFF; ch++ {
			var glyph int
			if ro == 0 {
				glyph = (ch + delta) & 0xFFFF
			} else {
				g, ok := u16(offsets + 2*i + ro + 2*(ch-start))
				if !ok {
					return nil, errBadFont
				}
				if g != 0 {
					glyph = (g + delta) & 0xFFFF
				}
			}
			covers[ch] = glyph != 0
		}
	}
	return covers, nil
}
