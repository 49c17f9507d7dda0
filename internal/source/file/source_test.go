package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sniff/internal/source"
	"firestige.xyz/sniff/internal/source/sourcetest"
)

func writeCapture(t *testing.T, frames ...[]byte) string {
	path := filepath.Join(t.TempDir(), "capture.pcap")
	sourcetest.WritePcap(t, path, frames...)
	return path
}

func readAll(t *testing.T, s *Source) [][]byte {
	var out [][]byte
	for {
		f, err := s.ReadFrame()
		if errors.Is(err, source.ErrExhausted) {
			return out
		}
		require.NoError(t, err)
		out = append(out, f.Data)
	}
}

func TestOpenAndRead(t *testing.T) {
	frames := [][]byte{
		sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1000, 80),
		sourcetest.UDPFrame("10.0.0.1", "10.0.0.3", 2000, 53),
		sourcetest.TCPFrame("2001:db8::1", "2001:db8::2", 3000, 443),
	}
	s, err := Open(writeCapture(t, frames...))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, layers.LinkTypeEthernet, s.LinkType())
	assert.Equal(t, 65535, s.SnapLen())

	first, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frames[0], first.Data)
	assert.Equal(t, uint32(len(frames[0])), first.CaptureLen)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.Timestamp.UTC())

	rest := readAll(t, s)
	assert.Equal(t, frames[1:], rest)

	_, err = s.ReadFrame()
	assert.ErrorIs(t, err, source.ErrExhausted)
}

func TestRewind(t *testing.T) {
	frames := [][]byte{
		sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1000, 80),
		sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1001, 80),
	}
	s, err := Open(writeCapture(t, frames...))
	require.NoError(t, err)
	defer s.Close()

	var _ source.Rewinder = s
	assert.Len(t, readAll(t, s), 2)

	require.NoError(t, s.Rewind())
	assert.Equal(t, frames, readAll(t, s))
}

func TestPredicate(t *testing.T) {
	frames := [][]byte{
		sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1000, 80),
		sourcetest.UDPFrame("10.0.0.1", "10.0.0.3", 2000, 53),
		sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1001, 443),
	}
	s, err := Open(writeCapture(t, frames...))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetPredicate("tcp"))
	assert.Equal(t, [][]byte{frames[0], frames[2]}, readAll(t, s))

	require.NoError(t, s.Rewind())
	require.NoError(t, s.SetPredicate("udp port 53"))
	assert.Equal(t, [][]byte{frames[1]}, readAll(t, s))

	require.NoError(t, s.Rewind())
	require.NoError(t, s.SetPredicate(""))
	assert.Len(t, readAll(t, s), 3)
}

func TestPredicateInvalid(t *testing.T) {
	s, err := Open(writeCapture(t))
	require.NoError(t, err)
	defer s.Close()

	err = s.SetPredicate("port http and (")
	assert.ErrorIs(t, err, source.ErrPredicate)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.pcap"))
	assert.ErrorIs(t, err, source.ErrOpen)
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.pcap")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not a capture file at all"), 0o644))
	_, err = Open(garbage)
	assert.ErrorIs(t, err, source.ErrOpen)

	empty := filepath.Join(dir, "empty.pcap")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Open(empty)
	assert.ErrorIs(t, err, source.ErrOpen)
}

func TestTruncatedTrailingRecord(t *testing.T) {
	frame := sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1000, 80)
	path := writeCapture(t, frame, frame)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-10))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Len(t, readAll(t, s), 1)
}

func TestPcapng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)

	frame := sourcetest.UDPFrame("10.0.0.1", "10.0.0.2", 5000, 5001)
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	require.NoError(t, w.WritePacket(source.CaptureInfo(sourcetest.Raw(frame, time.Now())), frame))
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, layers.LinkTypeEthernet, s.LinkType())
	assert.Equal(t, [][]byte{frame}, readAll(t, s))
}

func TestClose(t *testing.T) {
	s, err := Open(writeCapture(t, sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", 1, 2)))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ReadFrame()
	assert.ErrorIs(t, err, source.ErrExhausted)
	assert.Error(t, s.Rewind())
}
