// Package assembler turns sampled screen frames plus strip topology
// into preview bytes (for UI consumers) and a calibrated, chip-encoded
// wire buffer (for hardware).
package assembler

import (
	"math"
	"sync"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

// FrameSource supplies the current frame for a display, or ok=false if
// none has been captured yet.
type FrameSource interface {
	CurrentFrame(display types.DisplayID) (Frame, bool)
}

// Frame is the subset of a captured screen frame the Assembler needs:
// a BGRA pixel buffer plus its geometry.
type Frame struct {
	Width       int
	Height      int
	BytesPerRow int
	Pix         []byte // BGRA
}

// Point is one sample rectangle inside a frame, produced by the Screen
// Sampler's geometry step.
type Point struct {
	X, Y, W, H int
}

// PointsForStrip lays out count sample points uniformly along the inside
// of border, inset by 2% of the short dimension (at least 1 px). Each
// point is a rectangle as thick as that inset across the border and one
// step (border length / count, at least 1 px) long along it.
func PointsForStrip(border types.Border, count, frameW, frameH int) []Point {
	if count <= 0 {
		return nil
	}
	short := frameW
	if frameH < short {
		short = frameH
	}
	inset := int(math.Max(1, float64(short)*0.02))
	thickness := inset

	points := make([]Point, count)
	switch border {
	case types.BorderTop, types.BorderBottom:
		step := float64(frameW) / float64(count)
		y := inset
		if border == types.BorderBottom {
			y = frameH - inset - thickness
		}
		for i := 0; i < count; i++ {
			x := int(float64(i) * step)
			w := int(step)
			if w < 1 {
				w = 1
			}
			points[i] = Point{X: x, Y: y, W: w, H: thickness}
		}
	case types.BorderLeft, types.BorderRight:
		step := float64(frameH) / float64(count)
		x := inset
		if border == types.BorderRight {
			x = frameW - inset - thickness
		}
		for i := 0; i < count; i++ {
			y := int(float64(i) * step)
			h := int(step)
			if h < 1 {
				h = 1
			}
			points[i] = Point{X: x, Y: y, W: thickness, H: h}
		}
	}
	return points
}

// averageRect computes the linear-average RGB of a pixel rectangle in a
// BGRA frame. Alpha is ignored. Out-of-bounds rectangles are clamped.
func averageRect(f Frame, p Point) types.Color {
	x0, y0 := clamp(p.X, 0, f.Width), clamp(p.Y, 0, f.Height)
	x1, y1 := clamp(p.X+p.W, 0, f.Width), clamp(p.Y+p.H, 0, f.Height)
	if x1 <= x0 || y1 <= y0 {
		return types.Color{}
	}

	var sumR, sumG, sumB, n uint64
	for y := y0; y < y1; y++ {
		row := y * f.BytesPerRow
		for x := x0; x < x1; x++ {
			off := row + x*4
			if off+3 >= len(f.Pix) {
				continue
			}
			// BGRA -> RGB: swap channel 0 and 2, drop channel 3.
			b := f.Pix[off+0]
			g := f.Pix[off+1]
			r := f.Pix[off+2]
			sumR += uint64(r)
			sumG += uint64(g)
			sumB += uint64(b)
			n++
		}
	}
	if n == 0 {
		return types.Color{}
	}
	return types.Color{
		R: uint8(sumR / n),
		G: uint8(sumG / n),
		B: uint8(sumB / n),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// pointCache holds the last-computed sample points for a strip, keyed by
// the (strip index, frame geometry) it was computed for, so geometry is
// reused across invocations until topology or frame size changes.
type pointCache struct {
	mu    sync.Mutex
	byKey map[int]cachedPoints
}

type cachedPoints struct {
	width, height int
	points        []Point
}

func newPointCache() *pointCache {
	return &pointCache{byKey: make(map[int]cachedPoints)}
}

func (c *pointCache) get(s types.Strip, w, h int) []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cp, ok := c.byKey[s.Index]; ok && cp.width == w && cp.height == h {
		return cp.points
	}
	pts := PointsForStrip(s.Border, s.Len, w, h)
	c.byKey[s.Index] = cachedPoints{width: w, height: h, points: pts}
	return pts
}

// Assembler is the stateful, reusable component that runs one
// assemble pass per invocation.
type Assembler struct {
	points *pointCache
}

// New returns an Assembler with an empty sample-point cache.
func New() *Assembler {
	return &Assembler{points: newPointCache()}
}

// InvalidatePoints drops cached sample-point geometry; callers invoke
// this after a topology change so stale rectangles never get reused.
func (a *Assembler) InvalidatePoints() {
	a.points = newPointCache()
}

// Result is the output of one Assemble pass.
type Result struct {
	Preview []byte // uncalibrated RGB, 3*N bytes
	Wire    []byte // calibrated, chip-encoded, sum(len*bpp) bytes
	// PerStrip holds each strip's raw (uncalibrated) RGB colors in
	// natural sample order, keyed by strip index, for the Status &
	// Preview Bus's per-strip-colors event.
	PerStrip map[int][]types.Color
}

// Assemble samples each strip from its display's current frame, applies
// reversal, calibration, and chip encoding, and returns both a
// preview-ready RGB buffer and the final wire buffer, over strips
// (already sorted by Index) using frames from src and the given
// calibration.
func (a *Assembler) Assemble(strips []types.Strip, src FrameSource, cal types.Calibration) Result {
	n := 0
	wireSize := 0
	for _, s := range strips {
		n += s.Len
		wireSize += s.Len * s.LedType.BytesPerLED()
	}

	res := Result{
		Preview:  make([]byte, 0, 3*n),
		Wire:     make([]byte, 0, wireSize),
		PerStrip: make(map[int][]types.Color, len(strips)),
	}

	for _, s := range strips {
		colors := a.sampleStrip(s, src)
		res.PerStrip[s.Index] = colors

		emitOrder := colors
		if s.Reversed {
			emitOrder = reversed(colors)
		}

		for _, c := range emitOrder {
			res.Preview = append(res.Preview, c.R, c.G, c.B)
		}
		for _, c := range emitOrder {
			res.Wire = append(res.Wire, encodeLED(c, s.LedType, cal)...)
		}
	}
	return res
}

func (a *Assembler) sampleStrip(s types.Strip, src FrameSource) []types.Color {
	frame, ok := src.CurrentFrame(s.DisplayInternalID)
	if !ok {
		return make([]types.Color, s.Len) // zero value Color{} == black
	}

	pts := a.points.get(s, frame.Width, frame.Height)
	colors := make([]types.Color, len(pts))
	for i, p := range pts {
		colors[i] = averageRect(frame, p)
	}
	return colors
}

func reversed(in []types.Color) []types.Color {
	out := make([]types.Color, len(in))
	for i, c := range in {
		out[len(in)-1-i] = c
	}
	return out
}

// EncodeLED applies calibration and chip-native channel reordering to a
// single LED color. Exported so other producers onto the same wire
// format (the Test Pattern Source) share one implementation of the GRB
// and GRBW encodings instead of duplicating the bit-twiddling.
func EncodeLED(c types.Color, ledType types.LedType, cal types.Calibration) []byte {
	return encodeLED(c, ledType, cal)
}

// encodeLED applies calibration and chip-native channel reordering.
func encodeLED(c types.Color, ledType types.LedType, cal types.Calibration) []byte {
	r := scale(c.R, cal.R)
	g := scale(c.G, cal.G)
	b := scale(c.B, cal.B)
	if ledType == types.LedTypeGRBW {
		w := minOf(c.R, c.G, c.B)
		wCal := scale(w, cal.W)
		return []byte{g, r, b, wCal}
	}
	return []byte{g, r, b}
}

func scale(v uint8, factor float64) uint8 {
	f := float64(v) * factor
	if f < 0 {
		f = 0
	}
	if f > 255 {
		f = 255
	}
	return uint8(math.Round(f))
}

func minOf(a, b, c uint8) uint8 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
