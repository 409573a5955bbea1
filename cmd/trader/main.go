package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"path/filepath"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"hftcore/internal/core"
	"hftcore/internal/intake"
	"hftcore/internal/mdg"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/ops"
	"hftcore/internal/paper"
	"hftcore/internal/recorder"
	"hftcore/internal/risk"
	"hftcore/internal/schema"
	"hftcore/internal/signal"
	"hftcore/internal/state"
	"hftcore/internal/telemetry"
	"hftcore/pkg/conn"
	"hftcore/pkg/exception"
)

type options struct {
	configPath   string
	reload       time.Duration
	ticks        int
	statsEvery   int
	skipRecovery bool
}

func main() {
	var opt options
	flag.StringVar(&opt.configPath, "config", "", "Path to JSON config (empty uses defaults)")
	flag.DurationVar(&opt.reload, "config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	flag.IntVar(&opt.ticks, "ticks", 0, "Stop after this many feed ticks (0=run until signalled)")
	flag.IntVar(&opt.statsEvery, "stats-every", 100, "Log ledger stats every N ticks (0=never)")
	flag.BoolVar(&opt.skipRecovery, "fresh", false, "Skip snapshot + journal recovery")
	flag.Parse()

	loaded, err := loadConfig(opt.configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := run(loaded, opt); err != nil {
		log.Fatalf("trader stopped: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default()
	}
	return ops.Load(path)
}

func snapshotPath(loaded ops.Loaded) string {
	if loaded.SnapshotPath != "" {
		return loaded.SnapshotPath
	}
	return filepath.Join(loaded.Journal.Dir, "positions.json")
}

func run(loaded ops.Loaded, opt options) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if loaded.Obs.PyroscopeAddr != "" {
		profiler, err := startProfiler(loaded.Obs)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	snapPath := snapshotPath(loaded)

	pnl := state.NewDailyPnL(time.UTC)
	var lastSeq uint64
	if loaded.Features.EnableRecovery && !opt.skipRecovery {
		res, err := state.Recover(ctx, state.RecoverConfig{
			JournalDir:   loaded.Journal.Dir,
			FilePrefix:   loaded.Journal.FilePrefix,
			SnapshotPath: snapPath,
			Location:     time.UTC,
		})
		if err != nil {
			return err
		}
		pnl, lastSeq = res.PnL, res.LastSeq
		logs.Infof("recovered: last seq %d, replayed %d closes, realized %s, torn tail %v",
			res.LastSeq, res.Replayed, res.PnL.Realized().String(), res.TornTail)
	}

	// the writer and the relay outlive ctx so the flatten at shutdown is still recorded
	var (
		writer  *recorder.Writer
		journal *recorder.Journal
	)
	if loaded.Features.EnableJournal {
		w, err := recorder.NewWriter(loaded.Journal)
		if err != nil {
			return err
		}
		if err := w.Start(context.Background()); err != nil {
			return err
		}
		writer = w
		journal = recorder.NewJournal(w, lastSeq, metrics)
	}

	var relay *telemetry.Relay
	relayDone := make(chan error, 1)
	if loaded.Features.EnableTelemetry {
		sinks, err := dialSinks(ctx, loaded.Telemetry)
		if err != nil {
			return err
		}
		relay, err = telemetry.NewRelay(loaded.Telemetry, metrics, sinks...)
		if err != nil {
			return err
		}
		go func() { relayDone <- relay.Run(context.Background()) }()
	} else {
		relayDone <- nil
	}

	bridge, err := paper.New(loaded.Paper)
	if err != nil {
		return err
	}
	gateway, err := og.NewGateway(og.GatewayConfig{Session: loaded.Obs.AppName, ResendOnReconnect: true}, bridge)
	if err != nil {
		return err
	}

	signals, err := signal.NewManager(loaded.Signal, metrics)
	if err != nil {
		return err
	}
	registry, err := intake.DefaultRegistry(loaded.Intake)
	if err != nil {
		return err
	}
	riskEngine := risk.NewEngine(loaded.Risk, metrics)

	engine, err := core.New(loaded.Core, gateway, core.Deps{
		Signals:   signals,
		Intake:    intake.NewDispatcher(registry, signals, metrics),
		Risk:      riskEngine,
		PnL:       pnl,
		Journal:   journal,
		Telemetry: relay,
		Gateway:   gateway,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}
	bridge.Attach(engine)

	gen, err := mdg.NewGenerator(loaded.Instrument, loaded.Feed.Generator)
	if err != nil {
		return err
	}
	feed := &tickLoop{
		engine:     engine,
		bridge:     bridge,
		gateway:    gateway,
		gen:        gen,
		norm:       mdg.NewNormalizer(loaded.Instrument, loaded.Feed.Features),
		interval:   loaded.Feed.Interval,
		limit:      opt.ticks,
		statsEvery: opt.statsEvery,
		metrics:    metrics,
	}
	logs.Infof("trading %s qty %d, feed seed %d, sync mode %s",
		loaded.Instrument.Name, loaded.Core.Quantity, gen.Seed(), loaded.Core.Sync.Mode)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer cancel()
		return feed.Run(egCtx)
	})
	if loaded.Obs.MetricsAddr != "" {
		eg.Go(func() error {
			return obs.Serve(egCtx, loaded.Obs.MetricsAddr, metrics)
		})
	}
	if opt.configPath != "" && opt.reload > 0 {
		watcher, err := ops.NewWatcher(opt.configPath, opt.reload, func(next ops.Loaded) {
			engine.UpdateRisk(next.Risk)
			logs.Infof("risk limits reloaded from %s", opt.configPath)
		})
		if err != nil {
			return err
		}
		eg.Go(func() error {
			return watcher.Run(egCtx)
		})
	}
	runErr := eg.Wait()

	// shutdown: flatten, drain the broker, then the relay, then the journal
	if n := engine.Flatten(schema.ExitReasonFlatten); n > 0 {
		logs.Infof("flatten submitted %d exits", n)
	}
	bridge.Close()
	relay.Close()
	if err := <-relayDone; err != nil {
		logs.Errorf("telemetry relay: %v", err)
	}

	stats := engine.Stats()
	summary := engine.DailyPnL()
	logs.Infof("final: open %d, pending %d, closed %d, realized today %s over %d trades",
		stats.Open, stats.Pending, stats.Closed, summary.Realized.String(), summary.Trades)

	if writer != nil {
		if err := writer.Close(); err != nil {
			return errors.Join(runErr, err)
		}
		snap := pnl.Snapshot(journal.LastSeq(), feed.lastEventTs)
		if err := state.WriteSnapshot(snapPath, snap); err != nil {
			return errors.Join(runErr, err)
		}
		logs.Infof("snapshot written to %s at seq %d", snapPath, snap.LastSeq)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func dialSinks(ctx context.Context, cfg telemetry.Config) ([]telemetry.Sink, error) {
	var sinks []telemetry.Sink
	if cfg.RedisAddr != "" {
		s, err := telemetry.DialRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.PostgresDSN != "" {
		client, err := conn.New(ctx, conn.Option{ConnString: cfg.PostgresDSN})
		if err != nil {
			return nil, err
		}
		s, err := telemetry.NewJournalSink(ctx, client.DB(), client.Close)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// tickLoop pulls synthetic ticks and drives the engine from a single goroutine.
type tickLoop struct {
	engine     *core.Engine
	bridge     *paper.Bridge
	gateway    *og.Gateway
	gen        *mdg.Generator
	norm       *mdg.Normalizer
	interval   time.Duration
	limit      int
	statsEvery int
	metrics    *obs.Metrics

	lastEventTs int64
}

func (t *tickLoop) Run(ctx context.Context) error {
	var pace <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	for i := 1; t.limit == 0 || i <= t.limit; i++ {
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		market, err := t.norm.Normalize(t.gen.Next(time.Now().UTC()))
		if err != nil {
			return err
		}
		t.bridge.Mark(market.Price)
		t.reconnect()

		start := time.Now()
		report, err := t.engine.OnTick(market)
		t.metrics.ObserveTick(time.Since(start))
		t.lastEventTs = market.Timestamp.UnixNano()
		if err != nil {
			if errors.Is(err, exception.ErrCoreHalted) {
				return err
			}
			logs.Errorf("tick %d: %v", i, err)
			continue
		}

		if report.Opened {
			logs.Infof("tick %d: entry %s at %.2f (bull %.1f bear %.1f)",
				i, report.Decision.Direction, market.Price, report.Bull, report.Bear)
		}
		if t.statsEvery > 0 && i%t.statsEvery == 0 {
			logs.Infof("tick %d: price %.2f open %d pending %d closed %d daily %.2f signals %v",
				i, market.Price, report.Stats.Open, report.Stats.Pending, report.Stats.Closed, report.DailyPnL, report.Listing)
		}
	}
	return nil
}

// reconnect resends queued legs once the bridge takes orders again. Legs the bridge refuses go
// back to the engine as rejections so their records are released.
func (t *tickLoop) reconnect() {
	if t.gateway.Connected() || !t.bridge.Online() {
		return
	}
	res, err := t.gateway.Reconnect()
	for _, st := range res.Rejected {
		if rerr := t.engine.OnStateTransition(st); rerr != nil {
			logs.Errorf("resend rejection %s: %v", st.CorrelationID, rerr)
		}
	}
	if err != nil {
		logs.Errorf("gateway reconnect: %v", err)
		return
	}
	logs.Infof("gateway reconnected, resent %d legs, %d refused", len(res.Sent), len(res.Rejected))
}

type pyroscopeLogger struct{}

func (pyroscopeLogger) Infof(format string, args ...any) { logs.Infof(format, args...) }
func (pyroscopeLogger) Debugf(string, ...any)            {}
func (pyroscopeLogger) Errorf(format string, args ...any) { logs.Errorf(format, args...) }

func startProfiler(cfg ops.ObsConfig) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.PyroscopeAddr,
		Logger:          pyroscopeLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
