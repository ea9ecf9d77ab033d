// Package testpattern drives synthetic LED effects used to verify wiring
// and strip configuration without needing a captured screen (spec.md
// §4.8). It is a second, independent producer onto the Arbiter, always
// sending under types.ModeTestEffect.
package testpattern

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ivanli-cn/ambient-light-go/internal/arbiter"
	"github.com/ivanli-cn/ambient-light-go/internal/assembler"
	"github.com/ivanli-cn/ambient-light-go/internal/topology"
	"github.com/ivanli-cn/ambient-light-go/internal/types"
	"github.com/ivanli-cn/ambient-light-go/pkg/wire"
)

// FrameInterval is the effect refresh period (spec §4.8: "~30 fps").
const FrameInterval = time.Second / 30

// Effect renders one animation frame as a full-length color array over
// the global LED index space, given elapsed time since the effect
// started.
type Effect interface {
	Colors(n int, elapsed time.Duration) []types.Color
}

// ByName resolves a types.TestEffect to its Effect implementation.
func ByName(name types.TestEffect) Effect {
	switch name {
	case types.EffectGroupCounting:
		return GroupCounting{GroupSize: 10}
	case types.EffectSingleScan:
		return SingleScan{TailLen: 3}
	case types.EffectBreathing:
		return Breathing{Period: 2 * time.Second}
	default:
		return FlowingRainbow{Period: 4 * time.Second}
	}
}

// FlowingRainbow sweeps a hue gradient along the index space, cycling
// once every Period.
type FlowingRainbow struct{ Period time.Duration }

func (e FlowingRainbow) Colors(n int, elapsed time.Duration) []types.Color {
	if n <= 0 {
		return nil
	}
	period := e.Period
	if period <= 0 {
		period = 4 * time.Second
	}
	phase := float64(elapsed%period) / float64(period)
	out := make([]types.Color, n)
	for i := range out {
		hue := math.Mod(phase+float64(i)/float64(n), 1.0)
		out[i] = hsvToRGB(hue, 1.0, 1.0)
	}
	return out
}

// groupCountingPalette is the fixed ten-color sequence each successive
// run of GroupSize LEDs cycles through, so a viewer can count physical
// strip boundaries by color. Order matches the original implementation.
var groupCountingPalette = [10]types.Color{
	{R: 255, G: 0, B: 0},     // red
	{R: 0, G: 255, B: 0},     // green
	{R: 0, G: 0, B: 255},     // blue
	{R: 255, G: 255, B: 0},   // yellow
	{R: 255, G: 0, B: 255},   // magenta
	{R: 0, G: 255, B: 255},   // cyan
	{R: 255, G: 128, B: 0},   // orange
	{R: 128, G: 255, B: 0},   // lime
	{R: 255, G: 255, B: 255}, // white
	{R: 128, G: 128, B: 128}, // gray
}

// GroupCounting paints each successive run of GroupSize LEDs a distinct
// color from groupCountingPalette, cycling through it. The pattern is
// static: it does not depend on elapsed, so a viewer can count physical
// strip boundaries against a fixed color at a fixed position.
type GroupCounting struct{ GroupSize int }

func (e GroupCounting) Colors(n int, elapsed time.Duration) []types.Color {
	out := make([]types.Color, n)
	if n <= 0 {
		return out
	}
	size := e.GroupSize
	if size <= 0 {
		size = 10
	}
	for i := range out {
		group := (i / size) % len(groupCountingPalette)
		out[i] = groupCountingPalette[group]
	}
	return out
}

// SingleScan moves one bright pixel with a fading tail end-to-end and
// back, bouncing at the boundaries.
type SingleScan struct{ TailLen int }

func (e SingleScan) Colors(n int, elapsed time.Duration) []types.Color {
	out := make([]types.Color, n)
	if n <= 0 {
		return out
	}
	period := time.Duration(n) * 30 * time.Millisecond
	if period <= 0 {
		period = time.Second
	}
	phase := float64(elapsed%(2*period)) / float64(period)
	var pos float64
	if phase <= 1 {
		pos = phase * float64(n-1)
	} else {
		pos = (2 - phase) * float64(n-1)
	}
	head := int(pos)
	tail := e.TailLen
	if tail <= 0 {
		tail = 3
	}
	for i := 0; i <= tail && head-i >= 0 && head-i < n; i++ {
		v := uint8(255 / (i + 1))
		out[head-i] = types.Color{R: v, G: v, B: v}
	}
	return out
}

// Breathing pulses every LED white following a sine ramp over Period.
type Breathing struct{ Period time.Duration }

func (e Breathing) Colors(n int, elapsed time.Duration) []types.Color {
	if n <= 0 {
		return nil
	}
	period := e.Period
	if period <= 0 {
		period = 2 * time.Second
	}
	phase := float64(elapsed%period) / float64(period)
	level := (math.Sin(phase*2*math.Pi) + 1) / 2
	v := uint8(level * 255)
	out := make([]types.Color, n)
	for i := range out {
		out[i] = types.Color{R: v, G: v, B: v}
	}
	return out
}

func hsvToRGB(h, s, v float64) types.Color {
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, q, p
	}
	return types.Color{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255)}
}

// Source runs one Effect against the live topology and sends wire
// packets through the Arbiter under types.ModeTestEffect.
type Source struct {
	topo *topology.Topology
	arb  *arbiter.Arbiter
	log  *zap.Logger
}

// New returns a Source bound to topo and arb; it does not start sending
// until Run is called.
func New(topo *topology.Topology, arb *arbiter.Arbiter, log *zap.Logger) *Source {
	return &Source{topo: topo, arb: arb, log: log}
}

// Run sets the Arbiter to ModeTestEffect and sends frames of effect until
// ctx is cancelled, then restores ModeNone and force-sends an all-zero
// frame to turn hardware off (spec §4.5, §4.8).
func (s *Source) Run(ctx context.Context, effect Effect) error {
	s.arb.SetMode(types.ModeTestEffect)
	defer func() {
		s.arb.SetMode(types.ModeNone)
		strips := s.topo.List()
		if packet, err := wire.EncodeLEDWrite(0, make([]byte, topology.WireSize(strips))); err == nil {
			s.arb.ForceSend(packet)
		}
	}()

	start := time.Now()
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.sendFrame(effect, now.Sub(start))
		}
	}
}

// cal is always the identity calibration: spec §4.8 requires test
// pattern output with no color calibration applied, independent of
// whatever calibration the topology currently holds for AmbientLight.
func (s *Source) sendFrame(effect Effect, elapsed time.Duration) {
	strips := s.topo.List()
	n := topology.TotalLEDs(strips)
	colors := effect.Colors(n, elapsed)
	cal := types.DefaultCalibration()

	wireBuf := make([]byte, 0, topology.WireSize(strips))
	pos := 0
	for _, strip := range strips {
		seg := colors[pos : pos+strip.Len]
		pos += strip.Len
		if strip.Reversed {
			seg = reversed(seg)
		}
		for _, c := range seg {
			wireBuf = append(wireBuf, assembler.EncodeLED(c, strip.LedType, cal)...)
		}
	}

	packet, err := wire.EncodeLEDWrite(0, wireBuf)
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to frame wire buffer", zap.Error(err))
		}
		return
	}
	if err := s.arb.Send(packet, types.ModeTestEffect); err != nil {
		if s.log != nil {
			s.log.Warn("test pattern send rejected", zap.Error(err))
		}
	}
}

func reversed(in []types.Color) []types.Color {
	out := make([]types.Color, len(in))
	for i, c := range in {
		out[len(in)-1-i] = c
	}
	return out
}
