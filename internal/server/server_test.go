package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/protocol"
)

func startTestServer(t *testing.T, cfg *config.Server) (*Server, string) {
	t.Helper()

	srv := New(cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return srv, ln.Addr().String()
}

func testConfig() *config.Server {
	return &config.Server{
		Listen:         "127.0.0.1:0",
		SendQueueSize:  16,
		MaxMessageSize: 64 * 1024,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
	}
}

type wsPeer struct {
	t     *testing.T
	conn  *websocket.Conn
	codec protocol.Codec
}

func dial(t *testing.T, addr, codec string, header http.Header) *wsPeer {
	t.Helper()
	c, err := protocol.CodecByName(codec)
	if err != nil {
		t.Fatal(err)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?codec="+c.Name(), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{t: t, conn: conn, codec: c}
}

func (p *wsPeer) send(m *protocol.Message) {
	p.t.Helper()
	data, err := p.codec.Encode(m)
	if err != nil {
		p.t.Fatal(err)
	}
	frame := websocket.TextMessage
	if p.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	if err := p.conn.WriteMessage(frame, data); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *wsPeer) expect(typ protocol.Type) *protocol.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("read (want %s): %v", typ, err)
	}
	if p.codec.Binary() != (frame == websocket.BinaryMessage) {
		p.t.Fatalf("frame type %d does not match codec %s", frame, p.codec.Name())
	}
	m, err := p.codec.Decode(data)
	if err != nil {
		p.t.Fatalf("decode: %v", err)
	}
	if m.Type != typ {
		p.t.Fatalf("got %q, want %q", m.Type, typ)
	}
	return m
}

func TestHealth(t *testing.T) {
	_, addr := startTestServer(t, testConfig())

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestPairAndRelayAcrossCodecs(t *testing.T) {
	srv, addr := startTestServer(t, testConfig())

	a := dial(t, addr, "json", nil)
	b := dial(t, addr, "msgpack", nil)

	a.send(protocol.NewJoin("room", "A"))
	if m := a.expect(protocol.TypeRole); m.Role != protocol.RoleInitiator {
		t.Fatalf("A role = %q", m.Role)
	}
	b.send(protocol.NewJoin("room", "B"))
	if m := b.expect(protocol.TypeRole); m.Role != protocol.RoleResponder {
		t.Fatalf("B role = %q", m.Role)
	}
	a.expect(protocol.TypePeerReady)
	b.expect(protocol.TypePeerReady)

	a.send(protocol.NewOffer("room", "A", "B", "v=0 offer"))
	if m := b.expect(protocol.TypeOffer); m.SDP != "v=0 offer" || m.PeerID != "A" {
		t.Fatalf("offer = %+v", m)
	}
	b.send(protocol.NewAnswer("room", "B", "", "v=0 answer"))
	if m := a.expect(protocol.TypeAnswer); m.SDP != "v=0 answer" {
		t.Fatalf("answer = %+v", m)
	}

	// Closing the socket runs the same cleanup as leave.
	b.conn.Close()
	if m := a.expect(protocol.TypePeerLeft); m.PeerID != "B" {
		t.Fatalf("peer_left = %+v", m)
	}

	a.send(protocol.NewLeave("room", "A"))
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room not destroyed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInvalidMessageKeepsConnectionOpen(t *testing.T) {
	_, addr := startTestServer(t, testConfig())
	a := dial(t, addr, "json", nil)

	if err := a.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatal(err)
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	a.send(protocol.NewJoin("room", "A"))
	a.expect(protocol.TypeRole)
}

func TestUnknownCodecRejected(t *testing.T) {
	_, addr := startTestServer(t, testConfig())
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?codec=xml", nil)
	if err == nil {
		t.Fatalf("dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestOriginAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example/"}
	_, addr := startTestServer(t, cfg)

	dial(t, addr, "json", http.Header{"Origin": []string{"https://app.example"}})
	// Non-browser clients send no Origin.
	dial(t, addr, "json", nil)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatalf("foreign origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, addr := startTestServer(t, testConfig())
	a := dial(t, addr, "json", nil)
	a.send(protocol.NewJoin("room", "A"))
	a.expect(protocol.TypeRole)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tandem_signaling_events_total{event="joins"} 1`) {
		t.Fatalf("metrics body:\n%s", body)
	}
}
