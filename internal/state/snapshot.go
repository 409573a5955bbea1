package state

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
)

// Snapshot captures the daily result and the journal position it covers.
type Snapshot struct {
	Timestamp   int64           `json:"timestamp"`
	LastSeq     uint64          `json:"lastSeq"`
	LastEventTs int64           `json:"lastEventTs"`
	Day         string          `json:"day"`
	Realized    decimal.Decimal `json:"realized"`
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	ByReason    []ReasonCount   `json:"byReason"`
}

// ReasonCount is the number of closes for one exit reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Snapshot builds a snapshot of the current day.
func (p *DailyPnL) Snapshot(lastSeq uint64, lastEventTs int64) Snapshot {
	s := p.Summary()
	reasons := make([]ReasonCount, 0, len(s.ByReason))
	for r, n := range s.ByReason {
		reasons = append(reasons, ReasonCount{Reason: r.String(), Count: n})
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i].Reason < reasons[j].Reason })
	return Snapshot{
		Timestamp:   time.Now().UTC().UnixNano(),
		LastSeq:     lastSeq,
		LastEventTs: lastEventTs,
		Day:         s.Day,
		Realized:    s.Realized,
		Trades:      s.Trades,
		Wins:        s.Wins,
		Losses:      s.Losses,
		ByReason:    reasons,
	}
}

// Restore replaces the reducer state with snap.
func (p *DailyPnL) Restore(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(snap.Day)
	p.realized = snap.Realized
	p.trades = snap.Trades
	p.wins = snap.Wins
	p.losses = snap.Losses
	for _, rc := range snap.ByReason {
		p.byReason[parseExitReason(rc.Reason)] += rc.Count
	}
	if snap.LastEventTs > 0 {
		p.lastClose = time.Unix(0, snap.LastEventTs).UTC()
	}
}

func parseExitReason(s string) schema.ExitReason {
	for r := schema.ExitReasonNone; r <= schema.ExitReasonManual; r++ {
		if r.String() == s {
			return r
		}
	}
	return schema.ExitReasonNone
}

// WriteSnapshot writes snap as JSON. The file is replaced atomically.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create snapshot dir %s", dir)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return os.Rename(tmp, path)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decode snapshot %s", path)
	}
	return snap, nil
}

// CompareSnapshots reports the first difference in booked results between two snapshots.
func CompareSnapshots(expected, actual Snapshot) error {
	switch {
	case expected.Day != actual.Day:
		return errors.Errorf("day mismatch: expected=%s actual=%s", expected.Day, actual.Day)
	case !expected.Realized.Equal(actual.Realized):
		return errors.Errorf("realized mismatch: expected=%s actual=%s", expected.Realized, actual.Realized)
	case expected.Trades != actual.Trades:
		return errors.Errorf("trade count mismatch: expected=%d actual=%d", expected.Trades, actual.Trades)
	case expected.Wins != actual.Wins || expected.Losses != actual.Losses:
		return errors.Errorf("win/loss mismatch: expected=%d/%d actual=%d/%d", expected.Wins, expected.Losses, actual.Wins, actual.Losses)
	}
	return nil
}
