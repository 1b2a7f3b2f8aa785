package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentbridge/internal/bus"
	"torrentbridge/internal/events"
	"torrentbridge/internal/monitor"
	"torrentbridge/internal/qbit"
	"torrentbridge/internal/store"
)

// webUIStub is a minimal in-memory qBittorrent WebUI: it accepts any login,
// records added torrents, and serves status snapshots that the test mutates
// between poll cycles.
type webUIStub struct {
	mu        sync.Mutex
	snapshots map[string]qbit.Snapshot
}

func (s *webUIStub) set(snap qbit.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Hash] = snap
}

func (s *webUIStub) remove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, hash)
}

func (s *webUIStub) serve(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "session-1"})
		fmt.Fprint(w, "Ok.")
	})
	mux.HandleFunc("/api/v2/torrents/add", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("urls"))
		fmt.Fprint(w, "Ok.")
	})
	mux.HandleFunc("/api/v2/torrents/info", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		list := make([]qbit.Snapshot, 0, len(s.snapshots))
		for _, snap := range s.snapshots {
			list = append(list, snap)
		}

		require.NoError(t, json.NewEncoder(w).Encode(list))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// capturingBus records everything the engine publishes.
type capturingBus struct {
	mu     sync.Mutex
	events []capturedEvent
	alerts []events.PollingFailure
}

type capturedEvent struct {
	routingKey string
	payload    any
}

func (b *capturingBus) Publish(_ context.Context, routingKey string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, capturedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (b *capturingBus) Notify(_ context.Context, alert events.PollingFailure) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, alert)
	return nil
}

func (b *capturingBus) byKey(key string) []capturedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []capturedEvent
	for _, ev := range b.events {
		if ev.routingKey == key {
			out = append(out, ev)
		}
	}
	return out
}

// TestBridgeFlow drives the full pipeline in process: a command goes through
// the submit handler into a stub WebUI, the engine polls it through progress
// and completion, and an external removal is reported.
func TestBridgeFlow(t *testing.T) {
	ctx := context.Background()

	stub := &webUIStub{snapshots: make(map[string]qbit.Snapshot)}
	srv := stub.serve(t)

	client := qbit.NewClient(srv.URL, srv.Client(), "admin", "secret", testLogger())

	st, err := store.NewStore(filepath.Join(t.TempDir(), "bridge.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	capture := &capturingBus{}

	engine := monitor.NewEngine(monitor.EngineConfig{
		Store:       st,
		Client:      client,
		Publisher:   capture,
		Notifier:    capture,
		ServiceName: "torrentbridge-test",
		Logger:      testLogger(),
	})

	handler := &submitHandler{client: client, engine: engine, logger: testLogger()}

	cmd := bus.Command{
		RequestID: "req-42",
		MagnetURI: "magnet:?xt=urn:btih:" + testHash + "&dn=ubuntu.iso",
		Category:  "tv",
	}
	require.NoError(t, cmd.Validate([]string{"tv", "movies"}))
	require.NoError(t, handler.Handle(ctx, cmd))

	tracked, err := st.ListTracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testHash}, tracked)

	// Cycle 1: torrent is downloading.
	stub.set(qbit.Snapshot{
		Hash: testHash, Name: "ubuntu.iso", Progress: 0.25,
		DownloadSpeed: 1024, ETA: 600, State: "downloading", Category: "tv",
	})
	require.NoError(t, engine.RunOnce(ctx))

	progressed := capture.byKey(events.RoutingProgress)
	require.Len(t, progressed, 1)
	prog, ok := progressed[0].payload.(events.Progress)
	require.True(t, ok)
	assert.Equal(t, "req-42", prog.RequestID)
	assert.Equal(t, "ubuntu.iso", prog.Name)
	assert.InDelta(t, 0.25, prog.Progress, 1e-9)

	// Cycle 2: download finishes. Completion untracks the hash.
	stub.set(qbit.Snapshot{
		Hash: testHash, Name: "ubuntu.iso", Progress: 1.0,
		State: "stalledUP", Category: "tv", Size: 4096,
	})
	require.NoError(t, engine.RunOnce(ctx))

	completed := capture.byKey(events.RoutingComplete)
	require.Len(t, completed, 1)
	comp, ok := completed[0].payload.(events.Complete)
	require.True(t, ok)
	assert.Equal(t, "req-42", comp.RequestID)
	assert.Equal(t, int64(4096), comp.Size)

	tracked, err = st.ListTracked(ctx)
	require.NoError(t, err)
	assert.Empty(t, tracked)

	// Re-submit, confirm sighting, then yank it from the WebUI: the next
	// cycle must publish a removed event with the cached metadata.
	require.NoError(t, handler.Handle(ctx, cmd))
	stub.set(qbit.Snapshot{
		Hash: testHash, Name: "ubuntu.iso", Progress: 0.5,
		State: "downloading", Category: "tv",
	})
	require.NoError(t, engine.RunOnce(ctx))

	stub.remove(testHash)
	require.NoError(t, engine.RunOnce(ctx))

	removed := capture.byKey(events.RoutingRemoved)
	require.Len(t, removed, 1)
	rem, ok := removed[0].payload.(events.Removed)
	require.True(t, ok)
	assert.Equal(t, "req-42", rem.RequestID)
	assert.Equal(t, "ubuntu.iso", rem.Name)

	tracked, err = st.ListTracked(ctx)
	require.NoError(t, err)
	assert.Empty(t, tracked)

	assert.Empty(t, capture.alerts)
}
