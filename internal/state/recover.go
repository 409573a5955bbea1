package state

import (
	"context"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// RecoverConfig controls snapshot + journal recovery.
type RecoverConfig struct {
	JournalDir     string
	FilePrefix     string
	SnapshotPath   string
	SkipChecksum   bool
	MaxPayloadSize int
	Location       *time.Location
}

// RecoverResult is the rebuilt daily result and the journal position it covers.
type RecoverResult struct {
	PnL         *DailyPnL
	LastSeq     uint64
	LastEventTs int64
	Replayed    int
	TornTail    bool
}

// Recover loads the snapshot, if any, and replays the closed positions journaled after it.
// A missing snapshot file is not an error.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.JournalDir == "" {
		return RecoverResult{}, errors.Wrap(exception.ErrConfigInvalid, "recover: journal dir is empty")
	}

	res := RecoverResult{PnL: NewDailyPnL(cfg.Location)}
	if cfg.SnapshotPath != "" {
		snap, err := ReadSnapshot(cfg.SnapshotPath)
		switch {
		case err == nil:
			res.PnL.Restore(snap)
			res.LastSeq = snap.LastSeq
			res.LastEventTs = snap.LastEventTs
		case os.IsNotExist(err):
			logs.Infof("no snapshot at %s, replaying the whole journal", cfg.SnapshotPath)
		default:
			return RecoverResult{}, err
		}
	}

	if _, err := os.Stat(cfg.JournalDir); os.IsNotExist(err) {
		return res, nil
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:              cfg.JournalDir,
		FilePrefix:       cfg.FilePrefix,
		SkipChecksum:     cfg.SkipChecksum,
		MaxPayloadSize:   cfg.MaxPayloadSize,
		AfterSeq:         res.LastSeq,
		TolerateTornTail: true,
	})
	if err != nil {
		return RecoverResult{}, err
	}

	visitor := recorder.Visitor{
		Closed: func(_ schema.EventHeader, pc schema.PositionClosed) error {
			if res.PnL.Apply(pc) {
				res.Replayed++
			}
			return nil
		},
	}
	stats, err := pb.Run(ctx, func(ev bus.Event) error {
		if ev.Header.TsEvent > res.LastEventTs {
			res.LastEventTs = ev.Header.TsEvent
		}
		return visitor.Visit(ev)
	})
	if err != nil {
		return RecoverResult{}, err
	}
	if stats.LastSeq > res.LastSeq {
		res.LastSeq = stats.LastSeq
	}
	res.TornTail = stats.TornTail
	logs.Infof("recovered day %s: realized %s over %d trades (%d replayed, last seq %d)",
		res.PnL.Summary().Day, res.PnL.Realized(), res.PnL.Summary().Trades, res.Replayed, res.LastSeq)
	return res, nil
}
