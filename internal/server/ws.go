package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

const (
	// writeWait is the time allowed to write a single frame to the peer.
	writeWait = 10 * time.Second

	// pingPeriod is how often an idle connection is pinged.
	pingPeriod = 30 * time.Second

	// sendBuffer is the depth of the per-connection outbound queue.
	sendBuffer = 256
)

// Commands accepted on /ws.
const (
	cmdStart          = "start"
	cmdRestart        = "restart"
	cmdAdvance        = "advance"
	cmdChoose         = "choose"
	cmdToggleLanguage = "toggle_language"
	cmdToggleExplain  = "toggle_explain"
	cmdReplay         = "replay"
	cmdAudio          = "audio"
	cmdTransfer       = "transfer"
	cmdState          = "state"
)

// kindBadRequest marks frames the server could not interpret.
const kindBadRequest = "bad_request"

// command is a client text frame.
type command struct {
	Cmd     string `json:"cmd"`
	Pick    string `json:"pick,omitempty"`
	Option  string `json:"option,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

type errorFrame struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Cmd     string `json:"cmd,omitempty"`
}

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// client is one WebSocket connection and the session it drives.
type client struct {
	conn   *websocket.Conn
	send   chan frame
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// engine is set before the read loop starts.
	engine *engine.Engine

	mu     sync.Mutex
	closed bool
}

var _ speech.Sink = (*client)(nil)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	g := s.graph()
	if g == nil {
		writeError(w, http.StatusServiceUnavailable, "no scene loaded")
		return
	}
	if err := g.Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if s.sessions.Full() {
		writeError(w, http.StatusServiceUnavailable, ErrTooManySessions.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		// Accept has already written the HTTP error response.
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		conn:   conn,
		send:   make(chan frame, sendBuffer),
		logger: s.logger.With("remote", r.RemoteAddr),
		ctx:    ctx,
		cancel: cancel,
	}

	eng, err := s.newEngine(c, g)
	if err != nil {
		s.logger.Error("create session engine", "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	c.engine = eng
	c.logger = c.logger.With("session_id", eng.SessionID())

	info := SessionInfo{
		SessionID:  eng.SessionID(),
		SceneID:    g.Meta().ID,
		StartedAt:  time.Now().UTC(),
		RemoteAddr: r.RemoteAddr,
	}
	if err := s.sessions.add(info, cancel); err != nil {
		_ = eng.Close()
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer s.sessions.remove(info.SessionID)

	c.logger.Info("session connected", "scene", info.SceneID)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.writePump()
	}()

	c.sendState(ctx)
	c.readPump()

	cancel()
	_ = eng.Close()
	c.markClosed()
	<-pumpDone
	conn.Close(websocket.StatusNormalClosure, "")
	c.logger.Info("session disconnected")
}

// newEngine builds the per-connection engine and its speech backends.
func (s *Server) newEngine(c *client, g *scene.Graph) (*engine.Engine, error) {
	timer := speech.NewTimer(speech.WithReadingTime(s.speech.MinReadingTime, s.speech.PerCharReadingTime))

	opts := []engine.Option{
		engine.WithListener(c.onEvent),
		engine.WithGraphSource(s.graph),
		engine.WithTimer(timer),
		engine.WithMetrics(s.metrics),
		engine.WithLogger(s.logger),
	}

	prefs := engine.DefaultPreferences()
	if s.provider != nil {
		devOpts := []speech.DeviceOption{
			speech.WithVoice(speech.RoleNPC, voiceOf(s.speech.Voices.NPC)),
			speech.WithVoice(speech.RolePlayer, voiceOf(s.speech.Voices.Player)),
			speech.WithSampleRate(s.speech.SampleRate),
			speech.WithSpeakDelay(s.speech.SpeakDelay),
			speech.WithFallback(timer),
			speech.WithDeviceLogger(s.logger),
		}
		if s.guard != nil {
			devOpts = append(devOpts, speech.WithGuard(s.guard))
		}
		dev, err := speech.NewDevice(s.provider, c, devOpts...)
		if err != nil {
			return nil, fmt.Errorf("server: create speech device: %w", err)
		}
		opts = append(opts, engine.WithDevice(dev))
		prefs.Audio = s.speech.AudioEnabled
	}
	opts = append(opts, engine.WithPreferences(prefs))

	return engine.New(g, opts...)
}

func voiceOf(v config.VoiceConfig) tts.Voice {
	return tts.Voice{ID: v.VoiceID, Name: v.Name, SpeedFactor: v.SpeedFactor}
}

// ─── Pumps ───────────────────────────────────────────────────────────────────

// readPump applies client commands until the connection fails or the
// session is stopped.
func (c *client) readPump() {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if c.ctx.Err() == nil {
					c.logger.Debug("websocket read ended", "err", err)
				}
			}
			return
		}
		if typ != websocket.MessageText {
			c.sendError("", kindBadRequest, "binary frames are not accepted")
			continue
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.sendError("", kindBadRequest, "malformed command: "+err.Error())
			continue
		}
		c.dispatch(cmd)
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, f.typ, f.data)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write failed", "err", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Debug("websocket ping failed", "err", err)
				c.cancel()
				return
			}
		}
	}
}

// ─── Commands ────────────────────────────────────────────────────────────────

func (c *client) dispatch(cmd command) {
	ctx := c.ctx
	var err error
	switch cmd.Cmd {
	case cmdStart:
		err = c.engine.Start(ctx)
	case cmdRestart:
		err = c.engine.Restart(ctx)
	case cmdAdvance:
		err = c.engine.Advance(ctx)
	case cmdChoose:
		err = c.engine.Choose(ctx, cmd.Pick, cmd.Option)
	case cmdToggleLanguage:
		_, err = c.engine.ToggleLanguage(ctx)
	case cmdToggleExplain:
		_, err = c.engine.ToggleExplain(ctx)
	case cmdReplay:
		err = c.engine.Replay(ctx)
	case cmdAudio:
		if cmd.Enabled == nil {
			c.sendError(cmd.Cmd, kindBadRequest, `"enabled" is required`)
			return
		}
		err = c.engine.SetAudio(ctx, *cmd.Enabled)
	case cmdTransfer:
		_, err = c.engine.AnswerTransfer(ctx, cmd.Option)
	case cmdState:
		c.sendState(ctx)
		return
	default:
		c.sendError(cmd.Cmd, kindBadRequest, fmt.Sprintf("unknown command %q", cmd.Cmd))
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		c.sendError(cmd.Cmd, string(engine.KindOf(err)), err.Error())
	}
}

func (c *client) sendState(ctx context.Context) {
	st, err := c.engine.State(ctx)
	if err != nil {
		return
	}
	c.queueJSON("state", st)
}

func (c *client) sendError(cmd, kind, msg string) {
	c.queueJSON("error", errorFrame{Kind: kind, Message: msg, Cmd: cmd})
}

// ─── Outbound ────────────────────────────────────────────────────────────────

// onEvent forwards engine events. It runs on the engine loop and never
// blocks; a client that cannot keep up is disconnected.
func (c *client) onEvent(ev engine.Event) {
	c.queueJSON(ev.Name(), ev)
}

func (c *client) queueJSON(typ string, v any) {
	data, err := envelope(typ, v)
	if err != nil {
		c.logger.Error("encode frame", "type", typ, "err", err)
		return
	}
	c.enqueue(frame{typ: websocket.MessageText, data: data})
}

func (c *client) enqueue(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		c.logger.Warn("client send queue full, closing session")
		c.cancel()
	}
}

func (c *client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// WriteAudio queues a binary PCM frame. Unlike events it waits for room in
// the queue, which paces synthesis to the connection.
func (c *client) WriteAudio(ctx context.Context, _ speech.Utterance, pcm []byte) error {
	f := frame{typ: websocket.MessageBinary, data: pcm}
	select {
	case c.send <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Interrupt tells the client to drop buffered audio.
func (c *client) Interrupt() {
	c.queueJSON("audio_interrupted", struct{}{})
}

// envelope encodes v as a JSON object with a leading "type" member.
func envelope(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("server: %s payload is not a JSON object", typ)
	}
	name, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.Grow(len(body) + len(name) + 10)
	b.WriteString(`{"type":`)
	b.Write(name)
	if len(body) > 2 {
		b.WriteByte(',')
		b.Write(body[1:])
	} else {
		b.WriteByte('}')
	}
	return b.Bytes(), nil
}
