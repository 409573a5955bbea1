package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

const (
	writerIdle uint32 = iota
	writerRunning
	writerClosed
)

// Writer appends frames to rolling segment files. Append never blocks; the frames are
// written by a single goroutine started with Start.
type Writer struct {
	cfg   Config
	queue *bus.Queue[bus.Event]
	done  chan struct{}
	state atomic.Uint32

	written atomic.Uint64
	errMu   sync.Mutex
	err     error
}

// NewWriter validates cfg and creates the journal directory.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create journal dir %s", cfg.Dir)
	}
	return &Writer{
		cfg:   cfg,
		queue: bus.NewQueue[bus.Event](cfg.QueueSize),
		done:  make(chan struct{}),
	}, nil
}

// Start launches the write loop. It stops when ctx is done or Close is called.
func (w *Writer) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(writerIdle, writerRunning) {
		return exception.ErrJournalStarted
	}
	go w.loop(ctx)
	return nil
}

// Append queues ev. It fails fast when the queue is full or the writer is not running.
func (w *Writer) Append(ev bus.Event) error {
	switch w.state.Load() {
	case writerIdle:
		return exception.ErrJournalNotStarted
	case writerClosed:
		return exception.ErrJournalClosed
	}
	if err := w.Err(); err != nil {
		return err
	}
	if len(ev.Payload) > maxPayloadLen {
		return errors.Wrapf(ErrPayloadTooLarge, "%d bytes", len(ev.Payload))
	}
	if ev.Header.Version == 0 {
		ev.Header.Version = schema.SchemaVersion
	}
	return w.queue.TryPublish(ev)
}

// Close drains queued frames, closes the active segment and returns the first write error.
func (w *Writer) Close() error {
	prev := w.state.Swap(writerClosed)
	w.queue.Close()
	if prev == writerRunning {
		<-w.done
	}
	return w.Err()
}

// Err returns the first error hit by the write loop.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Written returns the number of frames written so far.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

func (w *Writer) fail(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
		logs.Errorf("journal writer stopped: %v", err)
	}
	w.errMu.Unlock()
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)

	var (
		seg   *segment
		frame = make([]byte, frameHeaderSize)
		tick  <-chan time.Time
	)
	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		tick = t.C
	}
	defer func() {
		w.fail(seg.close())
	}()

	in := w.queue.Chan()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-in:
					if !ok {
						return
					}
					if err := w.write(&seg, frame, ev); err != nil {
						w.fail(err)
						return
					}
				default:
					return
				}
			}
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := w.write(&seg, frame, ev); err != nil {
				w.fail(err)
				return
			}
		case <-tick:
			if err := seg.flush(w.cfg.SyncOnFlush); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *Writer) write(seg **segment, frame []byte, ev bus.Event) error {
	now := time.Now().UTC()
	size := frameSize(len(ev.Payload))
	if w.rotate(*seg, now, size) {
		if err := (*seg).close(); err != nil {
			return err
		}
		next, err := w.openSegment(now)
		if err != nil {
			return err
		}
		*seg = next
	}

	putFrameHeader(frame, ev.Header, len(ev.Payload))
	var trailer [frameTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], frameChecksum(frame, ev.Payload))

	s := *seg
	if _, err := s.buf.Write(frame); err != nil {
		return err
	}
	if _, err := s.buf.Write(ev.Payload); err != nil {
		return err
	}
	if _, err := s.buf.Write(trailer[:]); err != nil {
		return err
	}
	s.size += size
	w.written.Add(1)
	return nil
}

func (w *Writer) rotate(seg *segment, now time.Time, next int64) bool {
	switch {
	case seg == nil:
		return true
	case seg.size > 0 && seg.size+next > w.cfg.SegmentMaxBytes:
		return true
	case w.cfg.SegmentMaxAge > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxAge:
		return true
	default:
		return false
	}
}

// openSegment creates the next segment file. Names sort in write order.
func (w *Writer) openSegment(now time.Time) (*segment, error) {
	stamp := now.Format("20060102-150405.000000000")
	for n := 0; ; n++ {
		name := fmt.Sprintf("%s-%s-%03d%s", w.cfg.FilePrefix, stamp, n, segmentSuffix)
		path := filepath.Join(w.cfg.Dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "open segment %s", path)
		}
		logs.Infof("journal segment %s opened", name)
		return &segment{
			file:     f,
			buf:      bufio.NewWriterSize(f, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

func (s *segment) flush(sync bool) error {
	if s == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if sync {
		return s.file.Sync()
	}
	return nil
}

func (s *segment) close() error {
	if s == nil {
		return nil
	}
	if err := s.flush(true); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
