package recorder

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/pkg/exception"
)

// PlaybackConfig controls journal playback.
type PlaybackConfig struct {
	Dir        string
	FilePrefix string
	// Speed paces playback against event time; 0 replays as fast as possible.
	Speed          float64
	SkipChecksum   bool
	MaxPayloadSize int
	// AfterSeq skips frames with a sequence number at or below it.
	AfterSeq uint64
	// TolerateTornTail treats a truncated frame at the end of the last segment as the end of
	// the journal. It is what a crash in the middle of a write leaves behind.
	TolerateTornTail bool
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	switch {
	case c.Dir == "":
		return errors.Wrap(exception.ErrConfigInvalid, "playback dir is empty")
	case c.Speed < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "playback speed %v", c.Speed)
	case c.MaxPayloadSize < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "playback max payload %d", c.MaxPayloadSize)
	}
	return nil
}

// Clock lets tests replace real sleeping.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PlaybackStats summarises one Run.
type PlaybackStats struct {
	Segments int
	Frames   int
	Skipped  int
	LastSeq  uint64
	TornTail bool
}

// Playback replays journal segments in file order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates cfg.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: wallClock{}}, nil
}

// WithClock swaps the clock used for pacing.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Segments lists the journal segment files under dir in write order.
func Segments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read journal dir %s", dir)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Run calls fn for every frame. The payload passed to fn is only valid during the call.
func (p *Playback) Run(ctx context.Context, fn func(bus.Event) error) (PlaybackStats, error) {
	var stats PlaybackStats
	if fn == nil {
		return stats, errors.Wrap(exception.ErrInvalidArgument, "playback handler is nil")
	}
	files, err := Segments(p.cfg.Dir, p.cfg.FilePrefix)
	if err != nil {
		return stats, err
	}

	var prevTS int64
	for i, path := range files {
		last := i == len(files)-1
		if err := p.replayFile(ctx, path, last, fn, &prevTS, &stats); err != nil {
			return stats, err
		}
		stats.Segments++
	}
	return stats, nil
}

func (p *Playback) replayFile(ctx context.Context, path string, last bool, fn func(bus.Event) error, prevTS *int64, stats *PlaybackStats) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open segment %s", path)
	}
	defer f.Close()

	r := NewReader(f, ReaderOptions{SkipChecksum: p.cfg.SkipChecksum, MaxPayloadSize: p.cfg.MaxPayloadSize})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if last && p.cfg.TolerateTornTail && stderrors.Is(err, ErrTruncated) {
				logs.Errorf("journal %s ends with a torn frame after seq %d", filepath.Base(path), stats.LastSeq)
				stats.TornTail = true
				return nil
			}
			return errors.Wrapf(err, "read %s", filepath.Base(path))
		}

		if ev.Header.Seq <= p.cfg.AfterSeq && p.cfg.AfterSeq > 0 {
			stats.Skipped++
			continue
		}
		if err := p.pace(ctx, ev.Header.TsEvent, prevTS); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
		stats.Frames++
		if ev.Header.Seq > stats.LastSeq {
			stats.LastSeq = ev.Header.Seq
		}
	}
}

func (p *Playback) pace(ctx context.Context, ts int64, prevTS *int64) error {
	if p.cfg.Speed <= 0 || ts <= 0 {
		return nil
	}
	if *prevTS > 0 && ts > *prevTS {
		d := time.Duration(float64(ts-*prevTS) / p.cfg.Speed)
		if err := p.clock.Sleep(ctx, d); err != nil {
			return err
		}
	}
	*prevTS = ts
	return nil
}
