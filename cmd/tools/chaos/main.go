package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"hftcore/internal/bus"
	"hftcore/internal/chaos"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
)

func main() {
	inputDir := flag.String("input-dir", "data/journal", "Input journal directory")
	inputPrefix := flag.String("input-prefix", "", "Input journal file prefix (default: journal)")
	outputDir := flag.String("output-dir", "data/journal_chaos", "Output journal directory")
	outputPrefix := flag.String("output-prefix", "chaos", "Output journal file prefix")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max receive delay added to ts_recv")
	allFrames := flag.Bool("all", false, "Disturb every frame, not just broker notifications")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	flag.Parse()

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:              *inputDir,
		FilePrefix:       *inputPrefix,
		SkipChecksum:     *noChecksum,
		MaxPayloadSize:   *maxPayload,
		TolerateTornTail: true,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	injector, err := chaos.NewInjector[bus.Event](chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}
	log.Printf("chaos seed %d", injector.Seed())

	outCfg := recorder.DefaultConfig(*outputDir)
	outCfg.FilePrefix = *outputPrefix
	writer, err := recorder.NewWriter(outCfg)
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		log.Fatalf("writer start failed: %v", err)
	}

	var seq uint64
	emit := func(events []bus.Event) error {
		for _, ev := range events {
			seq++
			ev.Header.Seq = seq
			ev.Header.TsRecv += injector.Delay().Nanoseconds()
			if err := appendWait(writer, ev); err != nil {
				return err
			}
		}
		return nil
	}

	_, err = pb.Run(ctx, func(ev bus.Event) error {
		ev.Payload = append([]byte(nil), ev.Payload...)
		if !*allFrames && !isNotification(ev.Header.Type) {
			return emit([]bus.Event{ev})
		}
		return emit(injector.Process(ev))
	})
	if err == nil {
		err = emit(injector.Flush())
	}
	if err != nil {
		log.Fatalf("playback failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}

	stats := injector.Stats()
	log.Printf("frames in=%d out=%d dropped=%d duplicated=%d reordered=%d",
		stats.In, stats.Out, stats.Dropped, stats.Duplicated, stats.Reordered)
}

// appendWait blocks until the writer queue accepts ev.
func appendWait(w *recorder.Writer, ev bus.Event) error {
	for {
		err := w.Append(ev)
		if !errors.Is(err, bus.ErrQueueFull) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func isNotification(t schema.EventType) bool {
	return t == schema.EventStateTransition || t == schema.EventFillConfirmation
}
