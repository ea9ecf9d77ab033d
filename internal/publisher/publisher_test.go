package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ivanli-cn/ambient-light-go/internal/arbiter"
	"github.com/ivanli-cn/ambient-light-go/internal/assembler"
	"github.com/ivanli-cn/ambient-light-go/internal/sampler"
	"github.com/ivanli-cn/ambient-light-go/internal/statusbus"
	"github.com/ivanli-cn/ambient-light-go/internal/topology"
	"github.com/ivanli-cn/ambient-light-go/internal/types"
	"github.com/ivanli-cn/ambient-light-go/pkg/wire"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingSender) SendToAll(packet []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), packet...))
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recordingSender) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func solidFrame(w, h int, r, g, b byte) assembler.Frame {
	pix := make([]byte, w*h*4)
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i+0] = b
		pix[i+1] = g
		pix[i+2] = r
		pix[i+3] = 255
	}
	return assembler.Frame{Width: w, Height: h, BytesPerRow: w * 4, Pix: pix}
}

func setup() (*topology.Topology, *sampler.Sampler, *arbiter.Arbiter, *statusbus.Bus, *recordingSender) {
	topo := topology.New()
	topo.Upsert(types.Strip{Index: 0, Border: types.BorderTop, DisplayInternalID: "d1", Len: 4, LedType: types.LedTypeGRB})

	smp := sampler.New(func(types.DisplayID) (int, error) { return 0, nil }, nil)
	sender := &recordingSender{}
	arb := arbiter.New(sender, nil)
	bus := statusbus.New()
	return topo, smp, arb, bus, sender
}

func TestRenderOnceSendsUnderAmbientLightMode(t *testing.T) {
	topo, smp, arb, bus, sender := setup()
	smp.Publish("d1", solidFrame(20, 20, 255, 0, 0))

	p := New(topo, smp, assembler.New(), arb, bus, nil, nil)
	p.renderOnce()

	if arb.GetMode() != types.ModeAmbientLight {
		t.Fatalf("mode = %v, want ModeAmbientLight", arb.GetMode())
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 send, got %d", sender.count())
	}
	want := 3 + topology.WireSize(topo.List())
	if len(sender.last()) != want {
		t.Fatalf("packet size = %d, want %d", len(sender.last()), want)
	}
	offset, payload, err := wire.DecodeLEDWrite(sender.last())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offset != 0 {
		t.Fatalf("offset = %d, want 0 for a full-frame write", offset)
	}
	if len(payload) != topology.WireSize(topo.List()) {
		t.Fatalf("payload size = %d, want %d", len(payload), topology.WireSize(topo.List()))
	}
}

func TestRenderOnceSkippedWhenDisabled(t *testing.T) {
	topo, smp, arb, bus, sender := setup()
	smp.Publish("d1", solidFrame(20, 20, 0, 255, 0))

	p := New(topo, smp, assembler.New(), arb, bus, func() bool { return false }, nil)
	p.renderOnce()

	if sender.count() != 0 {
		t.Fatalf("expected no sends while disabled, got %d", sender.count())
	}
}

func TestRenderOnceSkippedWhenAnotherModeOwnsTransport(t *testing.T) {
	topo, smp, arb, bus, sender := setup()
	smp.Publish("d1", solidFrame(20, 20, 0, 0, 255))
	arb.SetMode(types.ModeTestEffect)

	p := New(topo, smp, assembler.New(), arb, bus, nil, nil)
	p.renderOnce()

	if sender.count() != 0 {
		t.Fatalf("expected no sends while TestEffect owns the transport, got %d", sender.count())
	}
	if arb.GetMode() != types.ModeTestEffect {
		t.Fatalf("renderOnce must not steal the mode from another active producer")
	}
}

func TestRunEmitsDarkFrameOnShutdown(t *testing.T) {
	topo, smp, arb, bus, sender := setup()
	smp.Publish("d1", solidFrame(20, 20, 10, 10, 10))

	p := New(topo, smp, assembler.New(), arb, bus, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not shut down within its grace period")
	}

	if arb.GetMode() != types.ModeNone {
		t.Fatalf("mode after shutdown = %v, want ModeNone", arb.GetMode())
	}
	last := sender.last()
	want := 3 + topology.WireSize(topo.List())
	if len(last) != want {
		t.Fatalf("final packet size = %d, want %d", len(last), want)
	}
	_, payload, err := wire.DecodeLEDWrite(last)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, b := range payload {
		if b != 0 {
			t.Fatal("final packet payload should be all zeros")
		}
	}
}

func TestPreviewPublishedOnlyWithSubscribers(t *testing.T) {
	topo, smp, arb, bus, _ := setup()
	smp.Publish("d1", solidFrame(20, 20, 5, 5, 5))
	p := New(topo, smp, assembler.New(), arb, bus, nil, nil)

	if bus.HasSubscribers(statusbus.TopicPreview) {
		t.Fatal("expected no subscribers initially")
	}
	p.renderOnce()

	ch, cancel := bus.Subscribe(statusbus.TopicPreview)
	defer cancel()
	arb.SetMode(types.ModeNone)
	p.renderOnce()

	select {
	case ev := <-ch:
		if _, ok := ev.([]byte); !ok {
			t.Fatalf("preview event type = %T, want []byte", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a preview event once subscribed")
	}
}
