// Package publisher runs the main ambient-light loop: it wakes whenever
// topology or a captured frame changes, rebuilds the assembled preview
// and wire buffers, and forwards them to the Status & Preview Bus and the
// Device Registry through the Arbiter.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivanli-cn/ambient-light-go/internal/arbiter"
	"github.com/ivanli-cn/ambient-light-go/internal/assembler"
	"github.com/ivanli-cn/ambient-light-go/internal/sampler"
	"github.com/ivanli-cn/ambient-light-go/internal/statusbus"
	"github.com/ivanli-cn/ambient-light-go/internal/topology"
	"github.com/ivanli-cn/ambient-light-go/internal/types"
	"github.com/ivanli-cn/ambient-light-go/pkg/wire"
)

// ShutdownGrace bounds how long Run waits for its supervised goroutines
// to exit after ctx is cancelled before giving up.
const ShutdownGrace = time.Second

// Publisher is the orchestrator tying the Screen Sampler, Assembler,
// Arbiter and Status & Preview Bus together into one render loop.
type Publisher struct {
	topo *topology.Topology
	smp  *sampler.Sampler
	asm  *assembler.Assembler
	arb  *arbiter.Arbiter
	bus  *statusbus.Bus
	log  *zap.Logger

	enabled func() bool

	mu       sync.Mutex
	watching map[types.DisplayID]bool
}

// New returns a Publisher. enabled is polled each cycle to decide whether
// ambient light is currently supposed to be driving hardware (wired to
// config.Store.AmbientLightEnabled); pass nil to always run.
func New(topo *topology.Topology, smp *sampler.Sampler, asm *assembler.Assembler, arb *arbiter.Arbiter, bus *statusbus.Bus, enabled func() bool, log *zap.Logger) *Publisher {
	return &Publisher{
		topo:     topo,
		smp:      smp,
		asm:      asm,
		arb:      arb,
		bus:      bus,
		enabled:  enabled,
		log:      log,
		watching: make(map[types.DisplayID]bool),
	}
}

// Run drives the loop until ctx is cancelled. It supervises one
// wake-fan-in goroutine per currently-known display plus the topology
// change watcher via errgroup, so a single failing goroutine tears the
// whole loop down instead of leaking (spec §4.7, §9).
func (p *Publisher) Run(ctx context.Context) error {
	if p.log != nil {
		p.log = p.log.With(zap.String("run_id", uuid.NewString()))
	}

	g, gctx := errgroup.WithContext(ctx)
	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-p.topo.Changes():
				p.asm.InvalidatePoints()
				p.rewatchDisplays(gctx, g, signal)
				signal()
			}
		}
	})

	p.rewatchDisplays(gctx, g, signal)
	signal() // render once immediately on startup

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-wake:
				p.renderOnce()
			}
		}
	})

	<-gctx.Done()
	p.emitDarkFrame()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(ShutdownGrace):
		if p.log != nil {
			p.log.Warn("publisher shutdown exceeded grace period")
		}
		return nil
	}
}

// rewatchDisplays spawns a forwarder goroutine for any display named by
// the current topology that isn't already being watched, so a newly
// added strip on a not-yet-seen display starts waking the loop too.
func (p *Publisher) rewatchDisplays(ctx context.Context, g *errgroup.Group, signal func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.topo.List() {
		d := s.DisplayInternalID
		if p.watching[d] {
			continue
		}
		p.watching[d] = true
		ch := p.smp.Subscribe(d)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ch:
					signal()
				}
			}
		})
	}
}

func (p *Publisher) renderOnce() {
	if p.enabled != nil && !p.enabled() {
		return
	}
	if p.arb.GetMode() != types.ModeNone && p.arb.GetMode() != types.ModeAmbientLight {
		return
	}
	p.arb.SetMode(types.ModeAmbientLight)

	strips := p.topo.List()
	cal := p.topo.ColorCalibration()
	result := p.asm.Assemble(strips, p.smp, cal)

	if p.bus.HasSubscribers(statusbus.TopicPreview) {
		p.bus.Publish(statusbus.TopicPreview, result.Preview)
	}
	if p.bus.HasSubscribers(statusbus.TopicStripColors) {
		for _, s := range strips {
			p.bus.Publish(statusbus.TopicStripColors, statusbus.StripColorsEvent{
				DisplayID: s.DisplayInternalID,
				Border:    s.Border,
				Index:     s.Index,
				Colors:    result.PerStrip[s.Index],
			})
		}
	}

	// Full-frame writes use offset 0 (spec §4.7's wire packet framing).
	packet, err := wire.EncodeLEDWrite(0, result.Wire)
	if err != nil {
		if p.log != nil {
			p.log.Error("failed to frame wire buffer", zap.Error(err))
		}
		return
	}
	if err := p.arb.Send(packet, types.ModeAmbientLight); err != nil {
		if p.log != nil {
			p.log.Debug("ambient light send skipped", zap.Error(err))
		}
		return
	}
	p.bus.RecordSend()
}

// emitDarkFrame force-sends an all-zero wire buffer so hardware goes
// dark on shutdown, independent of whatever mode was active (spec §4.5).
func (p *Publisher) emitDarkFrame() {
	strips := p.topo.List()
	packet, err := wire.EncodeLEDWrite(0, make([]byte, topology.WireSize(strips)))
	if err == nil {
		p.arb.ForceSend(packet)
	}
	p.arb.SetMode(types.ModeNone)
}
