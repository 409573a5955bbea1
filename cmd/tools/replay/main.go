package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"hftcore/internal/bus"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/internal/state"
)

func main() {
	dir := flag.String("dir", "data/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Print every decoded frame")
	snapshot := flag.String("snapshot", "", "Snapshot to verify the rebuilt daily P&L against (empty=skip)")
	reconcile := flag.Bool("reconcile", true, "Pair the journaled broker notifications again and report anomalies")
	flag.Parse()

	var (
		expected *state.Snapshot
		limit    = ^uint64(0)
	)
	if *snapshot != "" {
		snap, err := state.ReadSnapshot(*snapshot)
		if err != nil {
			log.Fatalf("snapshot read failed: %v", err)
		}
		expected, limit = &snap, snap.LastSeq
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:              *dir,
		FilePrefix:       *prefix,
		Speed:            *speed,
		SkipChecksum:     *noChecksum,
		MaxPayloadSize:   *maxPayload,
		TolerateTornTail: true,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	metrics := obs.NewMetrics()
	pnl := state.NewDailyPnL(time.UTC)
	counts := make(map[schema.EventType]int)

	var (
		paired  int
		lastSeq uint64
		lastTs  int64
		syncer  *og.Synchronizer
	)
	if *reconcile {
		syncer, err = og.NewSynchronizer(og.SyncConfig{Mode: og.ModeSplit}, og.Handlers{
			OnLegState: func(schema.StateTransition) {},
			OnPaired:   func(schema.PairedEvent) { paired++ },
		}, metrics)
		if err != nil {
			log.Fatalf("synchronizer init failed: %v", err)
		}
	}

	visitor := recorder.Visitor{
		Market: func(h schema.EventHeader, ms schema.MarketState) error {
			if *decode {
				fmt.Printf("  market %s price=%.2f trend=%.0f vol=%.2f mom=%.1f\n",
					ms.Symbol, ms.Price, ms.Trend, ms.Volatility, ms.Momentum)
			}
			return nil
		},
		EntryDecision: func(h schema.EventHeader, d schema.EntryDecision) error {
			if *decode {
				fmt.Printf("  entry %s strength=%.1f opposing=%.1f conf=%.2f\n",
					d.Direction, d.Strength, d.OpposingStrength, d.Confidence)
			}
			return nil
		},
		RiskDecision: func(h schema.EventHeader, d schema.RiskDecision) error {
			if *decode {
				fmt.Printf("  risk allowed=%v reason=%s qty=%d open=%d daily=%.2f\n",
					d.Allowed(), d.Reason, d.ProposedQty, d.OpenPositions, d.DailyRealized)
			}
			return nil
		},
		StateTransition: func(h schema.EventHeader, st schema.StateTransition) error {
			if *decode {
				fmt.Printf("  state id=%s state=%s qty=%d filled=%d\n", st.CorrelationID, st.State, st.Quantity, st.Filled)
			}
			if syncer != nil {
				// anomalies are counted by the synchronizer
				_ = syncer.OnStateTransition(st)
			}
			return nil
		},
		Fill: func(h schema.EventHeader, f schema.FillConfirmation) error {
			if *decode {
				fmt.Printf("  fill id=%s exec=%s price=%.2f qty=%d\n", f.CorrelationID, f.ExecutionID, f.Price, f.Quantity)
			}
			if syncer != nil {
				_ = syncer.OnFillConfirmation(f)
			}
			return nil
		},
		Opened: func(h schema.EventHeader, po schema.PositionOpened) error {
			if *decode {
				fmt.Printf("  opened record=%d %s qty=%d at %s pattern=%s\n",
					po.RecordID, po.Direction, po.Quantity, po.EntryPrice.String(), po.PatternID)
			}
			return nil
		},
		Closed: func(h schema.EventHeader, pc schema.PositionClosed) error {
			if *decode {
				fmt.Printf("  closed record=%d %s realized=%s reason=%s\n",
					pc.RecordID, pc.Direction, pc.Realized.String(), pc.ExitReason)
			}
			if h.Seq <= limit {
				pnl.Apply(pc)
			}
			return nil
		},
	}

	ctx := context.Background()
	var index int
	stats, err := pb.Run(ctx, func(ev bus.Event) error {
		index++
		counts[ev.Header.Type]++
		lastSeq, lastTs = ev.Header.Seq, ev.Header.TsEvent
		if *decode {
			fmt.Printf("%06d seq=%d type=%s ts_event=%d ts_recv=%d len=%d\n",
				index, ev.Header.Seq, ev.Header.Type, ev.Header.TsEvent, ev.Header.TsRecv, len(ev.Payload))
		}
		return visitor.Visit(ev)
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}

	fmt.Printf("frames=%d segments=%d torn_tail=%v last_seq=%d\n", stats.Frames, stats.Segments, stats.TornTail, lastSeq)
	for t := schema.EventMarketData; t <= schema.EventPositionClosed; t++ {
		fmt.Printf("  %-18s %d\n", t, counts[t])
	}

	summary := pnl.Summary()
	fmt.Printf("daily pnl day=%s realized=%s trades=%d wins=%d losses=%d\n",
		summary.Day, summary.Realized.String(), summary.Trades, summary.Wins, summary.Losses)

	if syncer != nil {
		report := syncer.Sweep(time.Now())
		snap := metrics.Snapshot()
		fmt.Printf("reconcile paired=%d pending=%d orphans=%d duplicates=%d already_paired=%d\n",
			paired, syncer.Pending(), len(report.Orphans),
			snap.Counters[obs.CounterDuplicateHalf], snap.Counters[obs.CounterAlreadyPaired])
	}

	if expected != nil {
		if expected.LastSeq != lastSeq {
			log.Printf("snapshot covers seq %d, journal continues to %d", expected.LastSeq, lastSeq)
		}
		if err := state.CompareSnapshots(*expected, pnl.Snapshot(expected.LastSeq, lastTs)); err != nil {
			log.Fatalf("snapshot mismatch: %v", err)
		}
		fmt.Println("snapshot verified")
	}
}
