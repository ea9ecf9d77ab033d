// Command ambient-lightd is the long-running daemon: it discovers LED
// controllers, matches displays, samples the screen, and streams color
// data to hardware until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/kbinani/screenshot"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivanli-cn/ambient-light-go/internal/arbiter"
	"github.com/ivanli-cn/ambient-light-go/internal/assembler"
	"github.com/ivanli-cn/ambient-light-go/internal/config"
	"github.com/ivanli-cn/ambient-light-go/internal/devicereg"
	"github.com/ivanli-cn/ambient-light-go/internal/displayreg"
	"github.com/ivanli-cn/ambient-light-go/internal/publisher"
	"github.com/ivanli-cn/ambient-light-go/internal/sampler"
	"github.com/ivanli-cn/ambient-light-go/internal/statusbus"
	"github.com/ivanli-cn/ambient-light-go/internal/topology"
	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

func main() {
	var (
		configDir = pflag.String("config-dir", "", "override the per-user config directory")
		verbose   = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	log := newLogger(*verbose)
	defer log.Sync()

	if err := run(log, *configDir); err != nil {
		log.Fatal("daemon exited with error", zap.Error(err))
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

func run(log *zap.Logger, configDirOverride string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := configDirOverride
	if dir == "" {
		d, err := config.Dir()
		if err != nil {
			return fmt.Errorf("resolve config dir: %w", err)
		}
		dir = d
	}

	store, err := config.Load(dir, log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info("config loaded", zap.String("dir", dir))

	displays := displayreg.New(log)
	displays.LoadRecords(decodeDisplayRecords(store.ConfigV2().Displays))

	results := displays.DetectAndRegister(enumerateOSDisplays())
	for _, res := range results {
		log.Info("display detected",
			zap.String("internal_id", string(res.InternalID)),
			zap.String("match", string(res.Match)),
			zap.Int("score", res.Score))
	}

	topo := topology.New()
	for _, sr := range store.ConfigV2().Strips {
		topo.Upsert(resolveLegacyStripRecord(sr, displays, log))
	}
	topo.SetColorCalibration(decodeCalibration(store.ConfigV2().Calibration))

	v2 := store.ConfigV2()
	v2.Displays = encodeDisplayRecords(displays.Records())
	v2.Strips = encodeStripRecords(topo.List())
	if err := store.SaveConfigV2(v2); err != nil {
		log.Warn("failed to persist detected displays", zap.Error(err))
	}

	devices := devicereg.New(log)
	bus := statusbus.New()
	arb := arbiter.New(devices, log)
	arb.OnModeChange(func(ev arbiter.ModeChangeEvent) {
		bus.Publish(statusbus.TopicMode, ev)
	})

	smp := sampler.New(displays.Resolve, log)
	asm := assembler.New()
	pub := publisher.New(topo, smp, asm, arb, bus, store.AmbientLightEnabled, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return devices.Discover(gctx) })
	g.Go(func() error { devices.RunLiveness(gctx); return nil })
	g.Go(func() error { return pub.Run(gctx) })

	for _, d := range displays.Records() {
		d := d
		g.Go(func() error { return smp.Run(gctx, d.InternalID) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		return nil
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	log.Info("daemon stopped")
	return nil
}

func decodeStripRecord(sr config.StripRecord) types.Strip {
	ledType := types.LedType(sr.LedType)
	if !ledType.Valid() {
		ledType = types.LedTypeGRB
	}
	return types.Strip{
		Index:             sr.Index,
		Border:            types.Border(sr.Border),
		DisplayInternalID: types.DisplayID(sr.DisplayInternalID),
		Len:               sr.Len,
		LedType:           ledType,
		Reversed:          sr.Reversed,
	}
}

func decodeCalibration(c config.CalibrationRecord) types.Calibration {
	return types.Calibration{R: c.R, G: c.G, B: c.B, W: c.W}
}

// legacyDisplayPrefix marks a strip's DisplayInternalID as an
// unresolved reference left by migrateLegacyIfPresent, of the form
// "legacy:<system_id>".
const legacyDisplayPrefix = "legacy:"

// enumerateOSDisplays queries the screen-capture backend for the
// currently connected displays, in the shape displayreg.DetectAndRegister
// expects. kbinani/screenshot does not report a HiDPI scale factor or a
// primary-display flag directly, so the primary display is approximated
// as the one whose bounds originate at (0, 0), the convention Windows,
// macOS and X11 all follow for the primary desktop.
func enumerateOSDisplays() []displayreg.OSDisplay {
	n := screenshot.NumActiveDisplays()
	out := make([]displayreg.OSDisplay, 0, n)
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		out = append(out, displayreg.OSDisplay{
			SystemID:    i,
			Name:        fmt.Sprintf("display-%d", i),
			Width:       b.Dx(),
			Height:      b.Dy(),
			ScaleFactor: 1.0,
			IsPrimary:   b.Min.X == 0 && b.Min.Y == 0,
			PosX:        b.Min.X,
			PosY:        b.Min.Y,
		})
	}
	return out
}

// resolveLegacyStripRecord decodes sr, and if its display reference is a
// migration placeholder ("legacy:<system_id>"), resolves it to the real
// internal_id via the freshly-detected Display Registry. Per spec §3, a
// strip whose display cannot be resolved is left as-is and the Assembler
// encodes it as black; it is not an error here.
func resolveLegacyStripRecord(sr config.StripRecord, displays *displayreg.Registry, log *zap.Logger) types.Strip {
	s := decodeStripRecord(sr)
	ref := string(s.DisplayInternalID)
	if !strings.HasPrefix(ref, legacyDisplayPrefix) {
		return s
	}
	systemID, err := strconv.Atoi(strings.TrimPrefix(ref, legacyDisplayPrefix))
	if err != nil {
		return s
	}
	if internalID, err := displays.ResolveReverse(systemID); err == nil {
		s.DisplayInternalID = internalID
	} else if log != nil {
		log.Warn("legacy strip display reference left unresolved",
			zap.Int("index", s.Index), zap.Int("system_id", systemID))
	}
	return s
}

func encodeDisplayRecords(records []types.Display) []config.DisplayRecord {
	out := make([]config.DisplayRecord, len(records))
	for i, r := range records {
		out[i] = config.DisplayRecord{
			InternalID:     string(r.InternalID),
			Name:           r.Name,
			Width:          r.Width,
			Height:         r.Height,
			ScaleFactor:    r.ScaleFactor,
			IsPrimary:      r.IsPrimary,
			LastSystemID:   r.LastSystemID,
			LastPositionX:  r.LastPositionX,
			LastPositionY:  r.LastPositionY,
			LastDetectedAt: r.LastDetectedAt,
		}
	}
	return out
}

func encodeStripRecords(strips []types.Strip) []config.StripRecord {
	out := make([]config.StripRecord, len(strips))
	for i, s := range strips {
		out[i] = config.StripRecord{
			Index:             s.Index,
			Border:            string(s.Border),
			DisplayInternalID: string(s.DisplayInternalID),
			Len:               s.Len,
			LedType:           string(s.LedType),
			Reversed:          s.Reversed,
		}
	}
	return out
}

func decodeDisplayRecords(records []config.DisplayRecord) []types.Display {
	out := make([]types.Display, len(records))
	for i, r := range records {
		out[i] = types.Display{
			InternalID:     types.DisplayID(r.InternalID),
			Name:           r.Name,
			Width:          r.Width,
			Height:         r.Height,
			ScaleFactor:    r.ScaleFactor,
			IsPrimary:      r.IsPrimary,
			LastSystemID:   r.LastSystemID,
			LastPositionX:  r.LastPositionX,
			LastPositionY:  r.LastPositionY,
			LastDetectedAt: r.LastDetectedAt,
		}
	}
	return out
}
