// Package session runs capture sessions.
//
// A Session owns one frame source and one worker goroutine. Control calls (Start, Stop,
// Close) reach the worker through a buffered command channel; decoded packets leave it
// through an output channel holding at most one packet, so a slow consumer throttles
// capture instead of growing memory. Commands carry no delivery confirmation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/core/decoder"
	"firestige.xyz/sniff/internal/log"
	"firestige.xyz/sniff/internal/metrics"
	"firestige.xyz/sniff/internal/source"
)

var (
	ErrNoCaptureFile = errors.New("sniff: no capture file")
	ErrClosed        = errors.New("sniff: session closed")
)

// Options configure a session.
type Options struct {
	// Label describes the source in logs and metrics, e.g. the device name or file path.
	Label string
	// Predicate is a BPF expression installed on the source before capture starts.
	Predicate string
	// Persist appends every captured frame to a temporary pcap file for SaveToFile.
	Persist bool
	// TempDir holds the temporary capture file; empty means os.TempDir().
	TempDir string
	// Rewind restarts an exhausted source on the next Start if it implements source.Rewinder.
	Rewind bool
	// CommandBuffer is the command channel capacity (default 16).
	CommandBuffer int
	// Decoder defaults to decoder.NewStandardDecoder.
	Decoder decoder.Decoder
	// OnExhausted, when set, is called by the worker each time the source runs dry.
	OnExhausted func()
}

// Stats are cumulative counters for one session.
type Stats struct {
	Frames     uint64 `json:"frames"`
	Decoded    uint64 `json:"decoded"`
	Malformed  uint64 `json:"malformed"`
	Delivered  uint64 `json:"delivered"`
	Persisted  uint64 `json:"persisted"`
	ReadErrors uint64 `json:"read_errors"`
}

type counters struct {
	frames, decoded, malformed, delivered, persisted, readErrors atomic.Uint64
}

type promCounters struct {
	frames, malformed, delivered, persisted, readErrors prometheus.Counter
	running                                             prometheus.Gauge
}

// Session is a capture session over one source.
type Session struct {
	id     string
	label  string
	src    source.Source
	dec    decoder.Decoder
	rewind bool
	file   *captureFile
	onDry  func()
	logger log.Logger

	commands chan Command
	packets  chan *core.DecodedPacket
	quit     chan struct{}
	done     chan struct{}

	state     atomic.Value // State
	exhausted bool         // worker only
	closeOnce sync.Once
	closeErr  error

	stats counters
	prom  promCounters
}

// New takes ownership of src and starts the worker in the Stopped state. On error src is
// closed.
func New(src source.Source, opts Options) (*Session, error) {
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = 16
	}
	if opts.Decoder == nil {
		opts.Decoder = decoder.NewStandardDecoder(decoder.Config{})
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		label:    opts.Label,
		src:      src,
		dec:      opts.Decoder,
		rewind:   opts.Rewind,
		onDry:    opts.OnExhausted,
		logger:   log.GetLogger().WithFields(map[string]interface{}{"session": id[:8], "source": opts.Label}),
		commands: make(chan Command, opts.CommandBuffer),
		packets:  make(chan *core.DecodedPacket, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.state.Store(StateStopped)

	if opts.Predicate != "" {
		if err := src.SetPredicate(opts.Predicate); err != nil {
			src.Close()
			return nil, err
		}
	}
	if opts.Persist {
		f, err := newCaptureFile(opts.TempDir, src.SnapLen(), src.LinkType())
		if err != nil {
			src.Close()
			return nil, err
		}
		s.file = f
	}

	s.prom = promCounters{
		frames:     metrics.CaptureFramesTotal.WithLabelValues(id, opts.Label),
		malformed:  metrics.DecodeMalformedTotal.WithLabelValues(id),
		delivered:  metrics.PacketsDeliveredTotal.WithLabelValues(id),
		persisted:  metrics.PersistedFramesTotal.WithLabelValues(id),
		readErrors: metrics.CaptureReadErrorsTotal.WithLabelValues(id),
		running:    metrics.SessionRunning.WithLabelValues(id),
	}

	go s.run()
	s.logger.WithField("persist", s.file != nil).Debug("session created")
	return s, nil
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Label() string { return s.label }

// State reports the worker's lifecycle state.
func (s *Session) State() State {
	return s.state.Load().(State)
}

func (s *Session) setState(st State) {
	s.state.Store(st)
	if st == StateRunning {
		s.prom.running.Set(1)
	} else {
		s.prom.running.Set(0)
	}
	s.logger.WithField("state", st).Debug("session state changed")
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:     s.stats.frames.Load(),
		Decoded:    s.stats.decoded.Load(),
		Malformed:  s.stats.malformed.Load(),
		Delivered:  s.stats.delivered.Load(),
		Persisted:  s.stats.persisted.Load(),
		ReadErrors: s.stats.readErrors.Load(),
	}
}

// Start asks the worker to begin capturing. It does not wait for the worker and reports
// nothing if the worker has already exited.
func (s *Session) Start() { s.send(CommandStart) }

// Stop asks the worker to end the current Running phase, with the same fire-and-forget
// semantics as Start. The worker observes it after the in-flight read or send returns.
func (s *Session) Stop() { s.send(CommandStop) }

func (s *Session) send(cmd Command) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	case <-s.quit:
	}
}

// Packets exposes the output channel. It is closed when the session is closed.
func (s *Session) Packets() <-chan *core.DecodedPacket {
	return s.packets
}

// Receive waits for the next decoded packet. It returns false once the session is closed
// or ctx is done; a packet already waiting is returned even if ctx is done.
func (s *Session) Receive(ctx context.Context) (*core.DecodedPacket, bool) {
	select {
	case pkt, ok := <-s.packets:
		return pkt, ok
	default:
	}
	select {
	case pkt, ok := <-s.packets:
		return pkt, ok
	case <-ctx.Done():
		return nil, false
	}
}

// SaveToFile copies the frames captured so far to path in pcap format. It fails with
// ErrNoCaptureFile when the session does not persist frames or has been closed.
func (s *Session) SaveToFile(path string) error {
	if s.file == nil {
		return ErrNoCaptureFile
	}
	if err := s.file.copyTo(path); err != nil {
		return err
	}
	s.logger.WithField("path", path).Info("capture saved")
	return nil
}

// CaptureFile returns the temporary capture file path, or "" when not persisting.
func (s *Session) CaptureFile() string {
	if s.file == nil {
		return ""
	}
	return s.file.Path()
}

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the worker, closes the output channel and the source, and deletes the
// temporary capture file. It waits at most for the in-flight source read to return.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done

		var errs []error
		if err := s.src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing source: %w", err))
		}
		if s.file != nil {
			if err := s.file.remove(); err != nil {
				errs = append(errs, fmt.Errorf("removing capture file: %w", err))
			}
		}
		s.state.Store(StateClosed)
		metrics.DeleteSession(s.id)
		s.closeErr = errors.Join(errs...)

		st := s.Stats()
		s.logger.WithFields(map[string]interface{}{
			"frames":    st.Frames,
			"delivered": st.Delivered,
			"malformed": st.Malformed,
		}).Info("session closed")
	})
	return s.closeErr
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s) %s", s.id, s.label, s.State())
}

// run is the worker: wait for Start while Stopped, capture while Running.
func (s *Session) run() {
	defer close(s.done)
	defer close(s.packets)

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		select {
		case <-s.quit:
			return
		case cmd := <-s.commands:
			if cmd != CommandStart {
				continue
			}
		}

		if quit := s.capture(); quit {
			return
		}
	}
}

type pollResult int

const (
	pollContinue pollResult = iota
	pollStop
	pollQuit
)

// poll checks the command channel without blocking. Start while Running is a no-op.
func (s *Session) poll() pollResult {
	for {
		select {
		case <-s.quit:
			return pollQuit
		case cmd := <-s.commands:
			if cmd == CommandStop {
				return pollStop
			}
		default:
			return pollContinue
		}
	}
}

// capture runs one Running phase. It reports whether the session is being closed.
func (s *Session) capture() (quit bool) {
	if s.exhausted && s.rewind {
		if r, ok := s.src.(source.Rewinder); ok {
			if err := r.Rewind(); err != nil {
				s.logger.WithError(err).Warn("rewind failed")
			} else {
				s.exhausted = false
			}
		}
	}

	s.setState(StateRunning)
	defer s.setState(StateStopped)

	for {
		frame, err := s.src.ReadFrame()
		switch {
		case err == nil:
			if quit, stop := s.handle(frame); quit || stop {
				return quit
			}
			continue
		case errors.Is(err, source.ErrTimeout):
		case errors.Is(err, source.ErrExhausted):
			s.exhausted = true
			s.logger.Debug("source exhausted")
			if s.onDry != nil {
				s.onDry()
			}
			return false
		default:
			s.stats.readErrors.Add(1)
			s.prom.readErrors.Inc()
			s.logger.WithError(err).Error("capture read failed")
			return false
		}

		switch s.poll() {
		case pollQuit:
			return true
		case pollStop:
			return false
		}
	}
}

// handle persists, decodes and delivers one frame, then polls for commands.
func (s *Session) handle(frame core.RawFrame) (quit, stop bool) {
	s.stats.frames.Add(1)
	s.prom.frames.Inc()

	if s.file != nil {
		if err := s.file.append(frame); err != nil {
			s.logger.WithError(err).Warn("persisting frame failed")
		} else {
			s.stats.persisted.Add(1)
			s.prom.persisted.Inc()
		}
	}

	began := time.Now()
	pkt, err := s.dec.Decode(frame)
	metrics.DecodeLatencySeconds.Observe(time.Since(began).Seconds())

	if err != nil {
		s.stats.malformed.Add(1)
		s.prom.malformed.Inc()
		if s.logger.IsTraceEnabled() {
			s.logger.WithError(err).Trace("frame dropped")
		}
	} else {
		s.stats.decoded.Add(1)
		select {
		case s.packets <- pkt:
			s.stats.delivered.Add(1)
			s.prom.delivered.Inc()
		case <-s.quit:
			return true, false
		}
	}

	switch s.poll() {
	case pollQuit:
		return true, false
	case pollStop:
		return false, true
	}
	return false, false
}
