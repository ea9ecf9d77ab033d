// Package sampler keeps a current screen frame for every display and
// exposes a change-notification slot per display (spec.md §4.2).
package sampler

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/ivanli-cn/ambient-light-go/internal/assembler"
	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

// CaptureInterval is the sleep between capture cycles (spec §4.2: "≈ 20ms").
const CaptureInterval = 20 * time.Millisecond

// Capturer captures one full-display image. Implemented by the real
// screenshot backend in production and faked in tests.
type Capturer interface {
	Capture(systemID int, bounds image.Rectangle) (*image.RGBA, error)
	Bounds(systemID int) (image.Rectangle, error)
}

// screenshotCapturer adapts github.com/kbinani/screenshot, which indexes
// displays by position in its own enumeration (its "N" argument) rather
// than this registry's internal_id — callers pass the OS system id
// resolved through the Display Registry.
type screenshotCapturer struct{}

func (screenshotCapturer) Bounds(systemID int) (image.Rectangle, error) {
	return screenshot.GetDisplayBounds(systemID), nil
}

func (screenshotCapturer) Capture(systemID int, bounds image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(bounds)
}

// slot is a single-writer, many-reader frame holder: a new frame
// overwrites the previous one, and readers only ever see the latest
// (spec §4.2, §5).
type slot struct {
	mu    sync.RWMutex
	frame assembler.Frame
	ready bool
	sub   chan struct{}
}

func newSlot() *slot {
	return &slot{sub: make(chan struct{}, 1)}
}

func (s *slot) publish(f assembler.Frame) {
	s.mu.Lock()
	s.frame = f
	s.ready = true
	s.mu.Unlock()
	select {
	case s.sub <- struct{}{}:
	default:
	}
}

func (s *slot) current() (assembler.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.ready
}

// Sampler owns one capture task per display and satisfies
// assembler.FrameSource. Construct with New and share the pointer.
type Sampler struct {
	mu       sync.RWMutex
	slots    map[types.DisplayID]*slot
	resolver func(types.DisplayID) (int, error)
	capture  Capturer
	log      *zap.Logger
}

// New returns a Sampler that resolves display internal ids to OS system
// ids via resolver (normally displayreg.Registry.Resolve).
func New(resolver func(types.DisplayID) (int, error), log *zap.Logger) *Sampler {
	return &Sampler{
		slots:    make(map[types.DisplayID]*slot),
		resolver: resolver,
		capture:  screenshotCapturer{},
		log:      log,
	}
}

// CurrentFrame implements assembler.FrameSource.
func (s *Sampler) CurrentFrame(display types.DisplayID) (assembler.Frame, bool) {
	s.mu.RLock()
	sl, ok := s.slots[display]
	s.mu.RUnlock()
	if !ok {
		return assembler.Frame{}, false
	}
	return sl.current()
}

// Publish injects a frame for display directly, creating its slot if
// needed. Used by tests and by any alternate frame source (e.g. a
// recorded-capture fixture) that doesn't go through Run's capture loop.
func (s *Sampler) Publish(display types.DisplayID, frame assembler.Frame) {
	s.mu.Lock()
	sl, ok := s.slots[display]
	if !ok {
		sl = newSlot()
		s.slots[display] = sl
	}
	s.mu.Unlock()
	sl.publish(frame)
}

// Subscribe returns a channel signaled (coalesced) whenever display's
// frame slot is updated, creating the slot if this is the first
// subscription to it.
func (s *Sampler) Subscribe(display types.DisplayID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[display]
	if !ok {
		sl = newSlot()
		s.slots[display] = sl
	}
	return sl.sub
}

// Run starts the capture loop for display and blocks until ctx is
// cancelled. Capture errors are logged and the loop continues (spec §4.2,
// §7: CaptureFailed never kills the task).
func (s *Sampler) Run(ctx context.Context, display types.DisplayID) error {
	s.mu.Lock()
	sl, ok := s.slots[display]
	if !ok {
		sl = newSlot()
		s.slots[display] = sl
	}
	s.mu.Unlock()

	ticker := time.NewTicker(CaptureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.captureOnce(display, sl)
		}
	}
}

func (s *Sampler) captureOnce(display types.DisplayID, sl *slot) {
	systemID, err := s.resolver(display)
	if err != nil {
		if s.log != nil {
			s.log.Warn("capture skipped: display unresolved", zap.String("display", string(display)), zap.Error(err))
		}
		return
	}

	bounds, err := s.capture.Bounds(systemID)
	if err != nil {
		if s.log != nil {
			s.log.Warn("capture bounds failed", zap.Error(err), zap.NamedError("kind", types.ErrCaptureFailed))
		}
		return
	}
	img, err := s.capture.Capture(systemID, bounds)
	if err != nil {
		if s.log != nil {
			s.log.Warn("capture failed", zap.Error(err), zap.NamedError("kind", types.ErrCaptureFailed))
		}
		return
	}

	sl.publish(assembler.Frame{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		BytesPerRow: img.Stride,
		Pix:         rgbaToBGRA(img),
	})
}

// rgbaToBGRA converts Go's standard image.RGBA (R,G,B,A byte order)
// into the BGRA byte order the Assembler's averageRect expects, so the
// same zero-copy channel-swap semantics in spec §9 apply uniformly
// regardless of the platform capture backend's native order.
func rgbaToBGRA(img *image.RGBA) []byte {
	out := make([]byte, len(img.Pix))
	for i := 0; i+3 < len(img.Pix); i += 4 {
		out[i+0] = img.Pix[i+2] // B
		out[i+1] = img.Pix[i+1] // G
		out[i+2] = img.Pix[i+0] // R
		out[i+3] = img.Pix[i+3] // A
	}
	return out
}
