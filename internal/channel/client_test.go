package channel

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/tandem/internal/config"
	"github.com/BioHazard786/tandem/internal/metrics"
	"github.com/BioHazard786/tandem/internal/protocol"
	"github.com/BioHazard786/tandem/internal/server"
	"github.com/BioHazard786/tandem/internal/signaling"
)

func startRelay(t *testing.T) (string, *signaling.Hub) {
	t.Helper()
	cfg := &config.Server{SendQueueSize: 16, MaxMessageSize: 64 * 1024, PongWait: 5 * time.Second, WriteWait: time.Second}
	m := metrics.New()
	hub := signaling.NewHub(signaling.Options{}, m)
	ts := httptest.NewServer(server.NewRouter(cfg, hub, m))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", hub
}

func dialTest(t *testing.T, base string, codec protocol.Codec) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, base+"?codec="+codec.Name(), codec, &Resolver{Fallback: []string{}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func next(t *testing.T, c *Client) *protocol.Message {
	t.Helper()
	select {
	case m, ok := <-c.Incoming():
		if !ok {
			t.Fatalf("incoming closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
	return nil
}

func TestClientRoundTrip(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSON, protocol.MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			base, _ := startRelay(t)
			a := dialTest(t, base, codec)
			b := dialTest(t, base, codec)

			if err := a.Send(protocol.NewJoin("r", "A")); err != nil {
				t.Fatal(err)
			}
			if m := next(t, a); m.Type != protocol.TypeRole {
				t.Fatalf("got %+v", m)
			}
			if err := b.Send(protocol.NewJoin("r", "B")); err != nil {
				t.Fatal(err)
			}
			next(t, b) // role
			next(t, a) // peer_ready
			next(t, b) // peer_ready

			cand := protocol.Candidate{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host", SDPMid: ptr("0")}
			if err := a.Send(protocol.NewCandidate("r", "A", "B", cand)); err != nil {
				t.Fatal(err)
			}
			m := next(t, b)
			if m.Type != protocol.TypeCandidate || m.Candidate == nil || *m.Candidate.SDPMid != "0" {
				t.Fatalf("got %+v", m)
			}
		})
	}
}

func TestCloseFlushesLeave(t *testing.T) {
	base, hub := startRelay(t)
	a := dialTest(t, base, protocol.JSON)

	a.Send(protocol.NewJoin("r", "A"))
	next(t, a)

	a.Send(protocol.NewLeave("r", "A"))
	a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("room still present")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Send(protocol.NewJoin("r", "A")); err != ErrClosed {
		t.Fatalf("Send after Close = %v", err)
	}
	select {
	case _, ok := <-a.Incoming():
		for ok {
			_, ok = <-a.Incoming()
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("incoming not closed")
	}
}

func TestIncomingClosesWhenServerGoesAway(t *testing.T) {
	base, hub := startRelay(t)
	a := dialTest(t, base, protocol.JSON)

	hub.Close()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-a.Incoming():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("incoming not closed after server hangup")
		}
	}
}

func ptr[T any](v T) *T { return &v }
