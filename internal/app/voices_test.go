package app_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/scene/scenetest"
)

var catalogue = []tts.Voice{
	{ID: "maya-v7", Name: "Maya", Provider: "elevenlabs"},
	{ID: "kai-v2", Name: " Kai ", Provider: "elevenlabs"},
}

func TestResolveVoices(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		in         config.VoicesConfig
		listErr    error
		wantNPC    string
		wantPlayer string
		wantLists  int
	}{
		{
			name:       "names resolved case-insensitively",
			in:         config.VoicesConfig{NPC: config.VoiceConfig{Name: "maya"}, Player: config.VoiceConfig{Name: "KAI"}},
			wantNPC:    "maya-v7",
			wantPlayer: "kai-v2",
			wantLists:  1,
		},
		{
			name:       "explicit id wins",
			in:         config.VoicesConfig{NPC: config.VoiceConfig{VoiceID: "custom", Name: "Maya"}, Player: config.VoiceConfig{Name: "Kai"}},
			wantNPC:    "custom",
			wantPlayer: "kai-v2",
			wantLists:  1,
		},
		{
			name:      "nothing to resolve",
			in:        config.VoicesConfig{NPC: config.VoiceConfig{VoiceID: "a"}, Player: config.VoiceConfig{}},
			wantNPC:   "a",
			wantLists: 0,
		},
		{
			name:       "unknown name keeps provider default",
			in:         config.VoicesConfig{NPC: config.VoiceConfig{Name: "Nobody"}, Player: config.VoiceConfig{Name: "Kai"}},
			wantNPC:    "",
			wantPlayer: "kai-v2",
			wantLists:  1,
		},
		{
			name:      "listing fails",
			in:        config.VoicesConfig{NPC: config.VoiceConfig{Name: "Maya"}},
			listErr:   errors.New("elevenlabs 401"),
			wantNPC:   "",
			wantLists: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &ttsmock.Provider{ListVoicesResult: catalogue, ListVoicesErr: tt.listErr}

			got := app.ResolveVoices(context.Background(), p, tt.in)
			if got.NPC.VoiceID != tt.wantNPC {
				t.Errorf("npc voice_id = %q, want %q", got.NPC.VoiceID, tt.wantNPC)
			}
			if got.Player.VoiceID != tt.wantPlayer {
				t.Errorf("player voice_id = %q, want %q", got.Player.VoiceID, tt.wantPlayer)
			}
			if got.NPC.Name != tt.in.NPC.Name {
				t.Errorf("npc name rewritten to %q", got.NPC.Name)
			}
			if p.ListVoicesCalls != tt.wantLists {
				t.Errorf("ListVoices called %d times, want %d", p.ListVoicesCalls, tt.wantLists)
			}
		})
	}
}

func TestNew_SessionsSpeakWithResolvedVoice(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	provider := &ttsmock.Provider{
		ListVoicesResult: catalogue,
		SynthesizeChunks: [][]byte{{1, 2}},
	}
	cfg := testConfig()
	cfg.Speech.AudioEnabled = true
	cfg.Speech.Voices.NPC = config.VoiceConfig{Name: "Maya"}

	application, err := app.New(context.Background(), cfg, &app.Providers{TTS: provider},
		app.WithGraph(scene.NewGraph(scenetest.Minimal(), "")),
		app.WithMetrics(testMetrics(t)),
		app.WithListener(ln),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if cfg.Speech.Voices.NPC.VoiceID != "" {
		t.Error("New() rewrote the caller's config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
		shutdown(t, application)
	})

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	var conn *websocket.Conn
	for {
		conn, _, err = websocket.Dial(dctx, "ws://"+ln.Addr().String()+"/ws", nil)
		if err == nil {
			break
		}
		if dctx.Err() != nil {
			t.Fatalf("dial: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(dctx, websocket.MessageText, []byte(`{"cmd":"start"}`)); err != nil {
		t.Fatalf("write start: %v", err)
	}
	for len(provider.Calls()) == 0 {
		if _, _, err := conn.Read(dctx); err != nil {
			t.Fatalf("no synthesis before read failed: %v", err)
		}
	}
	if got := provider.Calls()[0].Voice.ID; got != "maya-v7" {
		t.Errorf("npc line synthesised with voice %q, want maya-v7", got)
	}
}
