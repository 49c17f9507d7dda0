package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/source"
	"firestige.xyz/sniff/internal/source/file"
	"firestige.xyz/sniff/internal/source/sourcetest"
)

const waitFor = 2 * time.Second

func receive(t *testing.T, s *Session) *core.DecodedPacket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	pkt, ok := s.Receive(ctx)
	require.True(t, ok, "no packet received")
	return pkt
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, time.Millisecond)
}

func tcpFrames(sports ...uint16) [][]byte {
	out := make([][]byte, len(sports))
	for i, p := range sports {
		out[i] = sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", p, 443)
	}
	return out
}

func newSession(t *testing.T, src source.Source, opts Options) *Session {
	t.Helper()
	s, err := New(src, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSessionStartsStopped(t *testing.T) {
	s := newSession(t, sourcetest.NewSlice(), Options{Label: "test"})

	assert.Equal(t, StateStopped, s.State())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "test", s.Label())
	assert.Empty(t, s.CaptureFile())
	assert.Contains(t, s.String(), "stopped")
}

func TestStartStopEmitsNothing(t *testing.T) {
	src := sourcetest.NewSlice()
	src.Live = true
	s := newSession(t, src, Options{})

	s.Start()
	s.Stop()

	assert.Never(t, func() bool { return len(s.Packets()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	waitState(t, s, StateStopped)
	assert.Zero(t, s.Stats().Delivered)
}

func TestFramesDeliveredInOrder(t *testing.T) {
	src := sourcetest.NewSlice(tcpFrames(1001, 1002, 1003, 1004, 1005)...)
	s := newSession(t, src, Options{})

	s.Start()
	for _, want := range []uint16{1001, 1002, 1003, 1004, 1005} {
		pkt := receive(t, s)
		assert.Equal(t, want, pkt.SrcPort)
		assert.Equal(t, uint16(443), pkt.DstPort)
	}

	waitState(t, s, StateStopped)
	assert.Equal(t, uint64(5), s.Stats().Delivered)
}

func TestMalformedSkippedButPersisted(t *testing.T) {
	frames := [][]byte{
		sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1000, 80),
		sourcetest.GarbageFrame(),
		sourcetest.UDPFrame("10.0.0.1", "10.0.0.3", 2000, 53),
	}
	s := newSession(t, sourcetest.NewSlice(frames...), Options{Persist: true, TempDir: t.TempDir()})

	s.Start()
	assert.Equal(t, core.LayerTCP, receive(t, s).Transport())
	assert.Equal(t, core.LayerUDP, receive(t, s).Transport())
	waitState(t, s, StateStopped)

	assert.Equal(t, Stats{Frames: 3, Decoded: 2, Malformed: 1, Delivered: 2, Persisted: 3}, s.Stats())

	dst := filepath.Join(t.TempDir(), "saved.pcap")
	require.NoError(t, s.SaveToFile(dst))

	saved, err := file.Open(dst)
	require.NoError(t, err)
	defer saved.Close()
	for _, want := range frames {
		f, err := saved.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, f.Data)
	}
	_, err = saved.ReadFrame()
	assert.ErrorIs(t, err, source.ErrExhausted)
}

func TestSaveAfterZeroFrames(t *testing.T) {
	s := newSession(t, sourcetest.NewSlice(), Options{Persist: true, TempDir: t.TempDir()})

	dst := filepath.Join(t.TempDir(), "empty.pcap")
	require.NoError(t, s.SaveToFile(dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(24), info.Size())
}

func TestSaveWithoutPersistence(t *testing.T) {
	s := newSession(t, sourcetest.NewSlice(), Options{})

	err := s.SaveToFile(filepath.Join(t.TempDir(), "x.pcap"))
	assert.ErrorIs(t, err, ErrNoCaptureFile)
}

func TestSaveToUnwritableDestination(t *testing.T) {
	s := newSession(t, sourcetest.NewSlice(), Options{Persist: true, TempDir: t.TempDir()})

	err := s.SaveToFile(filepath.Join(t.TempDir(), "missing-dir", "x.pcap"))
	assert.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCloseReleasesEverything(t *testing.T) {
	src := sourcetest.NewSlice(tcpFrames(1, 2, 3)...)
	s, err := New(src, Options{Persist: true, TempDir: t.TempDir()})
	require.NoError(t, err)

	tmp := s.CaptureFile()
	require.FileExists(t, tmp)

	s.Start()
	receive(t, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.NoFileExists(t, tmp)
	assert.True(t, src.Closed())
	assert.Equal(t, StateClosed, s.State())

	_, ok := s.Receive(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, s.SaveToFile(filepath.Join(t.TempDir(), "late.pcap")), ErrNoCaptureFile)

	// control calls after close return without blocking
	s.Start()
	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("worker still running after Close")
	}
}

func TestStopPausesAndStartResumes(t *testing.T) {
	sports := []uint16{1, 2, 3, 4, 5, 6}
	src := sourcetest.NewSlice(tcpFrames(sports...)...)
	src.Live = true
	s := newSession(t, src, Options{})

	var got []uint16
	s.Start()
	got = append(got, receive(t, s).SrcPort)
	s.Stop()

	require.Eventually(t, func() bool {
		select {
		case pkt := <-s.Packets():
			got = append(got, pkt.SrcPort)
		default:
		}
		return s.State() == StateStopped && len(s.Packets()) == 0
	}, waitFor, time.Millisecond)
	paused := len(got)
	assert.Less(t, paused, len(sports))

	s.Start()
	for len(got) < len(sports) {
		got = append(got, receive(t, s).SrcPort)
	}
	assert.Equal(t, sports, got)
}

func TestRewindOnRestart(t *testing.T) {
	src := sourcetest.NewSlice(tcpFrames(7, 8)...)
	s := newSession(t, src, Options{Rewind: true})

	s.Start()
	assert.Equal(t, uint16(7), receive(t, s).SrcPort)
	assert.Equal(t, uint16(8), receive(t, s).SrcPort)
	waitState(t, s, StateStopped)

	s.Start()
	assert.Equal(t, uint16(7), receive(t, s).SrcPort)
	assert.Equal(t, uint16(8), receive(t, s).SrcPort)
	assert.Equal(t, 1, src.Rewinds())
}

func TestExhaustedWithoutRewind(t *testing.T) {
	src := sourcetest.NewSlice(tcpFrames(7)...)
	s := newSession(t, src, Options{})

	s.Start()
	receive(t, s)
	waitState(t, s, StateStopped)

	s.Start()
	assert.Never(t, func() bool { return len(s.Packets()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, src.Rewinds())
	assert.Equal(t, uint64(1), s.Stats().Frames)
}

func TestReadErrorEndsRunning(t *testing.T) {
	src := sourcetest.NewSlice(tcpFrames(1)...)
	src.Live = true
	src.ReadErr = errors.New("device went away")
	s := newSession(t, src, Options{})

	s.Start()
	receive(t, s)
	require.Eventually(t, func() bool { return s.Stats().ReadErrors == 1 }, waitFor, time.Millisecond)
	waitState(t, s, StateStopped)
}

func TestReceiveHonoursContext(t *testing.T) {
	s := newSession(t, sourcetest.NewSlice(), Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	pkt, ok := s.Receive(ctx)
	assert.False(t, ok)
	assert.Nil(t, pkt)
}

func TestOnExhaustedDrainsLastPacket(t *testing.T) {
	dry := make(chan struct{})
	var once sync.Once
	s := newSession(t, sourcetest.NewSlice(tcpFrames(1, 2)...), Options{
		OnExhausted: func() { once.Do(func() { close(dry) }) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-dry
		cancel()
	}()

	s.Start()
	var got []uint16
	for {
		pkt, ok := s.Receive(ctx)
		if !ok {
			break
		}
		got = append(got, pkt.SrcPort)
	}
	assert.Equal(t, []uint16{1, 2}, got)
	waitState(t, s, StateStopped)
}

func TestPredicateInstalled(t *testing.T) {
	src := sourcetest.NewSlice()
	newSession(t, src, Options{Predicate: "tcp port 443"})

	assert.Equal(t, "tcp port 443", src.Predicate())
}

type rejectingSource struct {
	*sourcetest.Slice
}

func (rejectingSource) SetPredicate(string) error {
	return source.ErrPredicate
}

func TestPredicateErrorClosesSource(t *testing.T) {
	src := rejectingSource{sourcetest.NewSlice()}

	s, err := New(src, Options{Predicate: "bogus ("})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, source.ErrPredicate)
	assert.True(t, src.Closed())
}

func TestCloseWhileBlockedOnSend(t *testing.T) {
	src := sourcetest.NewSlice(tcpFrames(1, 2, 3)...)
	s, err := New(src, Options{})
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return len(s.Packets()) == 1 }, waitFor, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close blocked behind an unread packet")
	}
}
