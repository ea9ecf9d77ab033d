// Command ambient-testpattern drives a single synthetic LED effect
// against the currently configured strip topology, for wiring and strip
// order verification without needing a running compositor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivanli-cn/ambient-light-go/internal/arbiter"
	"github.com/ivanli-cn/ambient-light-go/internal/config"
	"github.com/ivanli-cn/ambient-light-go/internal/devicereg"
	"github.com/ivanli-cn/ambient-light-go/internal/testpattern"
	"github.com/ivanli-cn/ambient-light-go/internal/topology"
	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

func main() {
	effectName := pflag.StringP("effect", "e", "flowing_rainbow",
		"effect to run: flowing_rainbow, group_counting, single_scan, breathing")
	duration := pflag.DurationP("duration", "d", 10*time.Second, "how long to run before turning lights off")
	pflag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	if err := run(log, types.TestEffect(*effectName), *duration); err != nil {
		log.Fatal("test pattern failed", zap.Error(err))
	}
}

func run(log *zap.Logger, effectName types.TestEffect, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	store, err := config.Load(dir, log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	topo := topology.New()
	for _, sr := range store.ConfigV2().Strips {
		ledType := types.LedType(sr.LedType)
		if !ledType.Valid() {
			ledType = types.LedTypeGRB
		}
		topo.Upsert(types.Strip{
			Index:             sr.Index,
			Border:            types.Border(sr.Border),
			DisplayInternalID: types.DisplayID(sr.DisplayInternalID),
			Len:               sr.Len,
			LedType:           ledType,
			Reversed:          sr.Reversed,
		})
	}
	if len(topo.List()) == 0 {
		return fmt.Errorf("no strips configured in %s", dir)
	}

	devices := devicereg.New(log)
	arb := arbiter.New(devices, log)
	src := testpattern.New(topo, arb, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return devices.Discover(gctx) })
	g.Go(func() error { devices.RunLiveness(gctx); return nil })

	runCtx, cancel := context.WithTimeout(gctx, duration)
	defer cancel()

	// Give mDNS a moment to find controllers before the effect starts.
	select {
	case <-time.After(2 * time.Second):
	case <-gctx.Done():
	}

	log.Info("running test pattern", zap.String("effect", string(effectName)), zap.Duration("duration", duration))
	if err := src.Run(runCtx, testpattern.ByName(effectName)); err != nil {
		return err
	}

	stop()
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}
