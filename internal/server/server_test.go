package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/scene/scenetest"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func fastSpeech() config.SpeechConfig {
	cfg := config.Default().Speech
	cfg.MinReadingTime = time.Millisecond
	cfg.PerCharReadingTime = time.Microsecond
	cfg.SpeakDelay = time.Millisecond
	return cfg
}

func newTestServer(t *testing.T, g *scene.Graph, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	base := []Option{
		WithMetrics(m),
		WithSpeech(fastSpeech()),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		})),
	}
	srv := New(func() *scene.Graph { return g }, append(base, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func minimalGraph() *scene.Graph {
	return scene.NewGraph(scenetest.Minimal(), "")
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendCmd(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write %v: %v", cmd, err)
	}
}

type wireFrame struct {
	binary bool
	data   []byte
	msg    map[string]any
}

func (f wireFrame) typ() string {
	s, _ := f.msg["type"].(string)
	return s
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ == websocket.MessageBinary {
		return wireFrame{binary: true, data: data}
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return wireFrame{data: data, msg: msg}
}

// readUntil reads frames until a text frame of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for range 100 {
		f := readFrame(t, conn)
		if !f.binary && f.typ() == typ {
			return f.msg
		}
	}
	t.Fatalf("no %q frame within 100 frames", typ)
	return nil
}

// readNodeEntered reads until the session enters nodeID.
func readNodeEntered(t *testing.T, conn *websocket.Conn, nodeID string) {
	t.Helper()
	for range 100 {
		msg := readUntil(t, conn, "node_entered")
		if msg["nodeId"] == nodeID {
			return
		}
	}
	t.Fatalf("session never entered %s", nodeID)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

// ── HTTP routes ──────────────────────────────────────────────────────────────

func TestSceneEndpoint(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, minimalGraph())

	resp, body := get(t, ts.URL+"/scene")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got sceneSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "minimal" || got.Nodes != 3 || got.Start != "n001" {
		t.Errorf("summary = %+v", got)
	}
	if got.Issues == nil || len(got.Issues) != 0 {
		t.Errorf("issues = %#v, want empty list", got.Issues)
	}
}

func TestSceneEndpoint_ReportsIssues(t *testing.T) {
	t.Parallel()
	doc := scenetest.Minimal()
	doc.Nodes[0].NPC.Next = "n404"
	_, ts := newTestServer(t, scene.NewGraph(doc, ""))

	_, body := get(t, ts.URL+"/scene")
	var got sceneSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Issues) == 0 {
		t.Fatal("expected validation issues for a dangling edge")
	}
}

func TestSceneEndpoint_NoScene(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, nil)

	resp, _ := get(t, ts.URL+"/scene")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	resp, _ = get(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", resp.StatusCode)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, minimalGraph())

	resp, body := get(t, ts.URL+"/schema/scene")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/schema+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var schema map[string]any
	if err := json.Unmarshal(body, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, minimalGraph())

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/sessions"} {
		resp, _ := get(t, ts.URL+path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, resp.StatusCode)
		}
	}
}

// ── WebSocket sessions ───────────────────────────────────────────────────────

func TestWS_InitialState(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t, minimalGraph())
	conn := dial(t, ts)

	msg := readUntil(t, conn, "state")
	if msg["phase"] != "unstarted" || msg["sceneId"] != "minimal" {
		t.Errorf("state = %v", msg)
	}
	if got := srv.Sessions().Count(); got != 1 {
		t.Errorf("live sessions = %d, want 1", got)
	}
}

func TestWS_PlaysToTheEnd(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, minimalGraph())
	conn := dial(t, ts)
	readUntil(t, conn, "state")

	sendCmd(t, conn, map[string]any{"cmd": "start"})
	readNodeEntered(t, conn, "n001")
	speech := readUntil(t, conn, "speech_started")
	utt, _ := speech["utterance"].(map[string]any)
	if utt["text"] != "Hi there." {
		t.Errorf("first utterance = %v", utt)
	}
	readNodeEntered(t, conn, "n002")

	sendCmd(t, conn, map[string]any{"cmd": "choose", "pick": "n002", "option": "a"})
	chosen := readUntil(t, conn, "option_chosen")
	rec, _ := chosen["record"].(map[string]any)
	if rec["pickNodeId"] != "n002" || rec["chosenOptionId"] != "a" {
		t.Errorf("record = %v", rec)
	}
	ended := readUntil(t, conn, "scene_ended")
	if ended["ending"] != "soft" {
		t.Errorf("scene_ended = %v", ended)
	}
	recap := readUntil(t, conn, "recap_ready")
	if _, ok := recap["summary"].(map[string]any); !ok {
		t.Errorf("recap_ready without summary: %v", recap)
	}

	sendCmd(t, conn, map[string]any{"cmd": "state"})
	st := readUntil(t, conn, "state")
	if st["phase"] != "end" {
		t.Errorf("phase = %v, want end", st["phase"])
	}
}

func TestWS_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		cmd      map[string]any
		wantKind string
	}{
		{name: "unknown command", cmd: map[string]any{"cmd": "dance"}, wantKind: kindBadRequest},
		{name: "advance before start", cmd: map[string]any{"cmd": "advance"}, wantKind: "invalid_transition"},
		{name: "choose before start", cmd: map[string]any{"cmd": "choose", "pick": "n002", "option": "a"}, wantKind: "invalid_transition"},
		{name: "audio without flag", cmd: map[string]any{"cmd": "audio"}, wantKind: kindBadRequest},
		{name: "audio without device", cmd: map[string]any{"cmd": "audio", "enabled": true}, wantKind: "audio_unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ts := newTestServer(t, minimalGraph())
			conn := dial(t, ts)
			readUntil(t, conn, "state")

			sendCmd(t, conn, tc.cmd)
			msg := readUntil(t, conn, "error")
			if msg["kind"] != tc.wantKind {
				t.Errorf("kind = %v, want %q (message %v)", msg["kind"], tc.wantKind, msg["message"])
			}
			if msg["cmd"] != tc.cmd["cmd"] {
				t.Errorf("cmd = %v, want %v", msg["cmd"], tc.cmd["cmd"])
			}
		})
	}
}

func TestWS_MalformedFrame(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, minimalGraph())
	conn := dial(t, ts)
	readUntil(t, conn, "state")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, "error")
	if msg["kind"] != kindBadRequest {
		t.Errorf("kind = %v, want %q", msg["kind"], kindBadRequest)
	}

	// The session survives a bad frame.
	sendCmd(t, conn, map[string]any{"cmd": "start"})
	readNodeEntered(t, conn, "n001")
}

func TestWS_TogglePreferences(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, minimalGraph())
	conn := dial(t, ts)
	readUntil(t, conn, "state")

	sendCmd(t, conn, map[string]any{"cmd": "toggle_language"})
	msg := readUntil(t, conn, "preferences_changed")
	prefs, _ := msg["prefs"].(map[string]any)
	if prefs["lang"] != string(scene.LangZH) {
		t.Errorf("lang = %v, want %q", prefs["lang"], scene.LangZH)
	}

	sendCmd(t, conn, map[string]any{"cmd": "toggle_explain"})
	msg = readUntil(t, conn, "preferences_changed")
	prefs, _ = msg["prefs"].(map[string]any)
	if prefs["explain"] != true {
		t.Errorf("explain = %v, want true", prefs["explain"])
	}
}

func TestWS_AudioFrames(t *testing.T) {
	t.Parallel()
	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}}
	speechCfg := fastSpeech()
	speechCfg.AudioEnabled = true
	_, ts := newTestServer(t, minimalGraph(), WithTTS(provider, nil), WithSpeech(speechCfg))
	conn := dial(t, ts)
	st := readUntil(t, conn, "state")
	prefs, _ := st["prefs"].(map[string]any)
	if prefs["audio"] != true {
		t.Fatalf("audio preference = %v, want true", prefs["audio"])
	}

	sendCmd(t, conn, map[string]any{"cmd": "start"})
	var pcm []byte
	for range 100 {
		f := readFrame(t, conn)
		if f.binary {
			pcm = append(pcm, f.data...)
			if len(pcm) == 8 {
				break
			}
		}
	}
	if len(pcm) != 8 || pcm[0] != 1 || pcm[7] != 8 {
		t.Fatalf("pcm = %v, want the synthesised chunks", pcm)
	}
	calls := provider.Calls()
	if len(calls) == 0 || calls[0].Text != "Hi there." {
		t.Errorf("synthesize calls = %+v", calls)
	}

	// The line completes after its playback time and the pick is entered.
	readNodeEntered(t, conn, "n002")
}

func TestWS_MaxSessions(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t, minimalGraph(), WithMaxSessions(1))
	conn := dial(t, ts)
	readUntil(t, conn, "state")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("second session accepted, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %+v, want 503", resp)
	}
	if got := srv.Sessions().Count(); got != 1 {
		t.Errorf("live sessions = %d, want 1", got)
	}
}

func TestWS_InvalidSceneRefused(t *testing.T) {
	t.Parallel()
	doc := scenetest.Minimal()
	doc.Nodes[0].NPC.Next = "n404"
	srv, ts := newTestServer(t, scene.NewGraph(doc, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("session accepted on an invalid scene, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %+v, want 503", resp)
	}
	if got := srv.Sessions().Count(); got != 0 {
		t.Errorf("live sessions = %d, want 0", got)
	}

	_, body := get(t, ts.URL+"/sessions")
	var listed []map[string]any
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decode /sessions %s: %v", body, err)
	}
	if len(listed) != 0 {
		t.Errorf("/sessions = %s, want empty", body)
	}
}

func TestWS_CloseEndsSessions(t *testing.T) {
	t.Parallel()
	srv, ts := newTestServer(t, minimalGraph())
	conn := dial(t, ts)
	readUntil(t, conn, "state")

	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				t.Fatal("connection still open after Close")
			}
			break
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Sessions().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("live sessions = %d after Close, want 0", srv.Sessions().Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── envelope ─────────────────────────────────────────────────────────────────

func TestEnvelope(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		typ     string
		v       any
		want    string
		wantErr bool
	}{
		{name: "fields", typ: "scene_ended", v: struct {
			NodeID string `json:"nodeId"`
		}{"n003"}, want: `{"type":"scene_ended","nodeId":"n003"}`},
		{name: "empty object", typ: "audio_interrupted", v: struct{}{}, want: `{"type":"audio_interrupted"}`},
		{name: "not an object", typ: "bad", v: []int{1}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := envelope(tc.typ, tc.v)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("envelope(%v) = %s, want error", tc.v, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("envelope: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("envelope = %s, want %s", got, tc.want)
			}
		})
	}
}

// ── Sessions ─────────────────────────────────────────────────────────────────

func TestSessions(t *testing.T) {
	t.Parallel()
	s := NewSessions(2)
	t0 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	stopped := map[string]bool{}
	stop := func(id string) func() { return func() { stopped[id] = true } }

	if err := s.add(SessionInfo{SessionID: "b", StartedAt: t0.Add(time.Minute)}, stop("b")); err != nil {
		t.Fatal(err)
	}
	if err := s.add(SessionInfo{SessionID: "a", StartedAt: t0}, stop("a")); err != nil {
		t.Fatal(err)
	}
	if !s.Full() {
		t.Error("Full() = false at the cap")
	}
	if err := s.add(SessionInfo{SessionID: "c"}, stop("c")); !errors.Is(err, ErrTooManySessions) {
		t.Errorf("add over cap: got %v, want ErrTooManySessions", err)
	}

	list := s.List()
	if len(list) != 2 || list[0].SessionID != "a" || list[1].SessionID != "b" {
		t.Errorf("List() = %+v, want a then b", list)
	}

	s.CloseAll()
	if !stopped["a"] || !stopped["b"] {
		t.Errorf("stopped = %v, want both", stopped)
	}

	s.remove("a")
	if s.Count() != 1 || s.Full() {
		t.Errorf("after remove: count=%d full=%v", s.Count(), s.Full())
	}
}

func TestSessions_DuplicateID(t *testing.T) {
	t.Parallel()
	s := NewSessions(0)
	if err := s.add(SessionInfo{SessionID: "x"}, func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.add(SessionInfo{SessionID: "x"}, func() {}); err == nil {
		t.Error("duplicate id accepted")
	}
}
