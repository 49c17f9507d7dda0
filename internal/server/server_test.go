package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sniff/internal/config"
	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/log"
	"firestige.xyz/sniff/internal/session"
	"firestige.xyz/sniff/internal/source/pcap"
	"firestige.xyz/sniff/internal/source/sourcetest"
)

func newTestServer(t *testing.T) (*Server, *session.Selector, string) {
	t.Helper()
	return newTestServerWith(t, config.Default())
}

func newTestServerWith(t *testing.T, cfg *config.Config) (*Server, *session.Selector, string) {
	t.Helper()
	if cfg.Server.SaveDir == config.Default().Server.SaveDir {
		cfg.Server.SaveDir = t.TempDir()
	}
	sel := session.NewSelector(cfg)
	srv := New(cfg.Server, sel)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop(context.Background())
		ts.Close()
		sel.Close()
	})
	return srv, sel, "ws" + strings.TrimPrefix(ts.URL, "http") + srv.cfg.Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(newMessage(typ, payload)))
}

// expect reads messages until one of type typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", typ)
		if msg.Type == typ {
			return msg
		}
	}
}

func decode[T any](t *testing.T, msg Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func writeCapture(t *testing.T, sports ...uint16) string {
	path := filepath.Join(t.TempDir(), "in.pcap")
	frames := make([][]byte, 0, len(sports))
	for _, p := range sports {
		frames = append(frames, sourcetest.TCPFrame("10.0.0.1", "10.0.0.2", p, 80))
	}
	sourcetest.WritePcap(t, path, frames...)
	return path
}

func TestSelectFileStreamsPackets(t *testing.T) {
	_, sel, url := newTestServer(t)
	conn := dial(t, url)

	send(t, conn, TypeSelectFile, SelectRequest{Path: writeCapture(t, 10, 11, 12)})

	selected := decode[SessionPayload](t, expect(t, conn, TypeSelected))
	require.NotNil(t, sel.Session())
	assert.Equal(t, sel.Session().ID(), selected.ID)

	for _, want := range []uint16{10, 11, 12} {
		pkt := decode[core.Summary](t, expect(t, conn, TypePacket))
		assert.Equal(t, want, pkt.SrcPort)
		assert.Equal(t, uint16(80), pkt.DstPort)
		assert.Equal(t, "10.0.0.1", pkt.Src)
		assert.Equal(t, "tcp", pkt.Protocol)
		assert.Equal(t, []string{"ether", "ip4", "tcp"}, pkt.Layers)
	}
}

func TestFilterIsPerClient(t *testing.T) {
	_, _, url := newTestServer(t)
	filtered := dial(t, url)
	all := dial(t, url)

	send(t, filtered, TypeFilter, FilterRequest{Expression: "TCP sport|20"})
	got := decode[FilterPayload](t, expect(t, filtered, TypeFilterOK))
	assert.Equal(t, "tcp sport|20", got.Expression)

	send(t, all, TypeSelectFile, SelectRequest{Path: writeCapture(t, 10, 20, 30)})

	pkt := decode[core.Summary](t, expect(t, filtered, TypePacket))
	assert.Equal(t, uint16(20), pkt.SrcPort)

	for _, want := range []uint16{10, 20, 30} {
		pkt := decode[core.Summary](t, expect(t, all, TypePacket))
		assert.Equal(t, want, pkt.SrcPort)
	}
}

func TestFilterParseErrorNamesToken(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dial(t, url)

	send(t, conn, TypeFilter, FilterRequest{Expression: "tcp port|99999"})
	e := decode[ErrorPayload](t, expect(t, conn, TypeError))
	assert.Equal(t, "port|99999", e.Token)
	assert.Contains(t, e.Message, "invalid")
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		payload interface{}
		want    string
	}{
		{"start without session", TypeStart, nil, errNoSession.Error()},
		{"stop without session", TypeStop, nil, errNoSession.Error()},
		{"stats without session", TypeStats, nil, errNoSession.Error()},
		{"save without path", TypeSave, SaveRequest{}, "invalid save payload"},
		{"select file without path", TypeSelectFile, SelectRequest{}, "requires a path"},
		{"select device without name", TypeSelectDevice, SelectRequest{}, "requires a device"},
		{"missing file", TypeSelectFile, SelectRequest{Path: "/nonexistent/x.pcap"}, "open"},
		{"unknown", "reboot", nil, "unknown command: reboot"},
	}

	_, _, url := newTestServer(t)
	conn := dial(t, url)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.typ, tt.payload)
			e := decode[ErrorPayload](t, expect(t, conn, TypeError))
			assert.Contains(t, e.Message, tt.want)
		})
	}
}

func TestSaveConfinedToSaveDir(t *testing.T) {
	cfg := config.Default()
	cfg.Session.PersistFiles = true
	cfg.Server.SaveDir = t.TempDir()
	_, _, url := newTestServerWith(t, cfg)
	conn := dial(t, url)

	send(t, conn, TypeSelectFile, SelectRequest{Path: writeCapture(t, 10, 11)})
	expect(t, conn, TypeSelected)
	expect(t, conn, TypePacket)
	expect(t, conn, TypePacket)

	outside := filepath.Join(t.TempDir(), "abs.pcap")
	for _, p := range []string{"../escape.pcap", outside, "sub/../../escape.pcap"} {
		send(t, conn, TypeSave, SaveRequest{Path: p})
		e := decode[ErrorPayload](t, expect(t, conn, TypeError))
		assert.Contains(t, e.Message, "relative path inside", p)
	}
	assert.NoFileExists(t, outside)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfg.Server.SaveDir), "escape.pcap"))

	send(t, conn, TypeSave, SaveRequest{Path: "sub/out.pcap"})
	saved := decode[SaveRequest](t, expect(t, conn, TypeSaved))
	want := filepath.Join(cfg.Server.SaveDir, "sub", "out.pcap")
	assert.Equal(t, want, saved.Path)
	assert.FileExists(t, want)
}

func TestSelectFileConfinedToDataDir(t *testing.T) {
	cfg := config.Default()
	in := writeCapture(t, 10)
	cfg.Server.DataDir = filepath.Dir(in)
	_, _, url := newTestServerWith(t, cfg)
	conn := dial(t, url)

	send(t, conn, TypeSelectFile, SelectRequest{Path: in})
	e := decode[ErrorPayload](t, expect(t, conn, TypeError))
	assert.Contains(t, e.Message, "relative path inside")

	send(t, conn, TypeSelectFile, SelectRequest{Path: filepath.Base(in)})
	expect(t, conn, TypeSelected)
	assert.Equal(t, uint16(10), decode[core.Summary](t, expect(t, conn, TypePacket)).SrcPort)
}

func TestInvalidMessageFormat(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	e := decode[ErrorPayload](t, expect(t, conn, TypeError))
	assert.Equal(t, "invalid message format", e.Message)
}

func TestStartStopAndStats(t *testing.T) {
	_, sel, url := newTestServer(t)
	src := sourcetest.NewSlice()
	src.Live = true
	sess, err := session.New(src, session.Options{Label: "fake"})
	require.NoError(t, err)
	sel.Use(sess)

	conn := dial(t, url)
	assert.Equal(t, "fake", decode[SessionPayload](t, expect(t, conn, TypeSelected)).Label)

	send(t, conn, TypeStart, nil)
	ack := decode[CommandPayload](t, expect(t, conn, TypeCommandSent))
	assert.Equal(t, CommandPayload{Command: TypeStart, Session: sess.ID()}, ack)
	require.Eventually(t, func() bool { return sess.State() == session.StateRunning }, time.Second, 5*time.Millisecond)

	send(t, conn, TypeStop, nil)
	ack = decode[CommandPayload](t, expect(t, conn, TypeCommandSent))
	assert.Equal(t, TypeStop, ack.Command)
	require.Eventually(t, func() bool { return sess.State() == session.StateStopped }, time.Second, 5*time.Millisecond)

	send(t, conn, TypeStats, nil)
	stats := decode[SessionPayload](t, expect(t, conn, TypeStats))
	assert.Equal(t, sess.ID(), stats.ID)
	assert.Equal(t, 1, stats.Stream)
}

func TestInterfaces(t *testing.T) {
	srv, _, url := newTestServer(t)
	srv.listInterfaces = func() ([]pcap.Interface, error) {
		return []pcap.Interface{{Name: "eth0", Addresses: []netip.Addr{netip.MustParseAddr("192.0.2.1")}}}, nil
	}
	conn := dial(t, url)

	send(t, conn, TypeInterfaces, nil)
	ifaces := decode[[]pcap.Interface](t, expect(t, conn, TypeInterfaces))
	require.Len(t, ifaces, 1)
	assert.Equal(t, "eth0", ifaces[0].Name)
	assert.Equal(t, "192.0.2.1", ifaces[0].Addresses[0].String())
}

func TestClientUnregisteredOnClose(t *testing.T) {
	srv, _, url := newTestServer(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSendMessageDropsPacketsWhenFull(t *testing.T) {
	c := &Client{
		sendCh: make(chan Message, 1),
		done:   make(chan struct{}),
		logger: log.GetLogger(),
	}

	c.SendMessage(Message{Type: TypePacket})
	c.SendMessage(Message{Type: TypePacket})
	assert.Len(t, c.sendCh, 1)

	c.SendMessage(Message{Type: TypeError})
	require.Len(t, c.sendCh, 1)
	assert.Equal(t, TypeError, (<-c.sendCh).Type)

	close(c.done)
	c.SendMessage(Message{Type: TypeError})
	assert.Empty(t, c.sendCh)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same host", nil, "http://example.test", true},
		{"foreign host", nil, "http://evil.test", false},
		{"listed origin", []string{"http://ui.test"}, "http://ui.test", true},
		{"wildcard", []string{"*"}, "http://evil.test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(config.ServerConfig{AllowedOrigins: tt.allowed}, nil)
			r := httptest.NewRequest(http.MethodGet, "http://example.test/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, srv.checkOrigin(r))
		})
	}
}
