package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/budget-sentinel/internal/domain"
	"github.com/coder/websocket"
)

// stateJoiner is a minimal stand-in for the dashboard store.
type stateJoiner struct {
	mu    sync.Mutex
	state domain.DashboardState
	hub   *Hub
}

func (j *stateJoiner) Join(fn func(domain.DashboardState)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j.state)
}

func (j *stateJoiner) set(state domain.DashboardState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
	j.hub.Broadcast(state)
}

func startHub(t *testing.T, initial domain.DashboardState) (*Hub, *stateJoiner, string) {
	t.Helper()
	hub := NewHub(nil)
	joiner := &stateJoiner{state: initial, hub: hub}
	srv := httptest.NewServer(NewWebSocketHandler(hub, joiner, []string{"*"}, false))
	t.Cleanup(srv.Close)
	return hub, joiner, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLateJoinerReceivesCurrentState(t *testing.T) {
	t.Parallel()

	initial := domain.EmptyState()
	initial.BudgetLoaded = true
	_, _, url := startHub(t, initial)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	frame := readFrame(t, ctx, conn)
	if frame.Event != EventDashboardUpdate {
		t.Fatalf("unexpected event %q", frame.Event)
	}
	if !frame.Data.BudgetLoaded {
		t.Fatal("expected the current state on connect")
	}
}

func TestBroadcastReachesEveryClientInOrder(t *testing.T) {
	t.Parallel()

	hub, joiner, url := startHub(t, domain.EmptyState())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		readFrame(t, ctx, conn)
		conns[i] = conn
	}
	waitForClients(t, hub, 2)

	for _, dept := range []string{"first", "second"} {
		state := domain.EmptyState()
		state.DetectedBreaches = []domain.Breach{{Department: dept}}
		joiner.set(state)
	}

	for i, conn := range conns {
		for _, want := range []string{"first", "second"} {
			frame := readFrame(t, ctx, conn)
			if len(frame.Data.DetectedBreaches) != 1 || frame.Data.DetectedBreaches[0].Department != want {
				t.Fatalf("client %d: expected %q, got %+v", i, want, frame.Data.DetectedBreaches)
			}
		}
	}
}

func TestPingGetsPong(t *testing.T) {
	t.Parallel()

	_, _, url := startHub(t, domain.EmptyState())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	readFrame(t, ctx, conn)

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if !strings.Contains(string(data), `"pong"`) {
		t.Fatalf("expected pong, got %s", data)
	}
}

func TestDisconnectUnregistersClient(t *testing.T) {
	t.Parallel()

	hub, _, url := startHub(t, domain.EmptyState())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readFrame(t, ctx, conn)
	waitForClients(t, hub, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, hub, 0)
}

func TestClientQueueKeepsNewestFrames(t *testing.T) {
	t.Parallel()

	c := newClient()
	for i := 0; i < clientQueueSize+5; i++ {
		c.enqueue([]byte{byte(i)})
	}
	if len(c.send) != clientQueueSize {
		t.Fatalf("expected full queue of %d, got %d", clientQueueSize, len(c.send))
	}
	first := <-c.send
	if first[0] != 5 {
		t.Fatalf("expected oldest kept frame to be 5, got %d", first[0])
	}

	c.close()
	if c.enqueue([]byte{1}) {
		t.Fatal("expected enqueue on closed client to be a no-op")
	}
}

func TestOriginCheck(t *testing.T) {
	t.Parallel()

	h := NewWebSocketHandler(NewHub(nil), &stateJoiner{}, []string{"http://localhost:3000"}, false)
	req := httptest.NewRequest("GET", "/ws/dashboard", nil)
	req.Header.Set("Origin", "http://evil.example")
	if h.checkOrigin(req) {
		t.Fatal("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "http://localhost:3000")
	if !h.checkOrigin(req) {
		t.Fatal("expected configured origin to be accepted")
	}
}
