// Package engine implements the dialogue state machine that drives one
// player session through a [scene.Graph].
//
// An [Engine] owns its session state exclusively. Player actions and speech
// completions are applied one at a time on a single loop goroutine: a caller
// blocks until its action has been applied and receives the action's error,
// while completions from the speech port are queued behind whatever action
// is running. Presentation layers observe the session through [Event]s
// delivered to registered [Listener]s and through [Engine.State] snapshots;
// they never mutate it directly.
//
// Entering an NPC node speaks its line. When the line is followed by a pick
// the engine moves into the pick on its own once the line has finished;
// otherwise the session waits for [Engine.Advance]. Choosing an option
// speaks the player's line, moves to the option's follow-up node at once and
// speaks the follow-up line after the player's line has finished. Entering
// an end node generates the recap immediately.
//
// This package lives under internal/ because it encapsulates application-private
// session logic and is not intended to be imported by external code.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/recap"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/scene"
	"github.com/MrWong99/parley/pkg/speech"
)

// inboxSize is the buffer depth of the loop's job queue.
const inboxSize = 16

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithListener registers l to receive every event. May be given more than
// once; listeners are called in registration order.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

// WithTimer overrides the backend used while audio is disabled. The default
// is a [speech.Timer] with default reading times.
func WithTimer(b speech.Backend) Option {
	return func(e *Engine) { e.timer = b }
}

// WithDevice sets the backend used while audio is enabled. Without it
// enabling audio fails with [ErrAudioUnavailable].
func WithDevice(b speech.Backend) Option {
	return func(e *Engine) { e.device = b }
}

// WithMetrics sets the metric instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSessionID sets the session id. Defaults to a random UUID.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// WithPreferences sets the initial presentation preferences.
func WithPreferences(p Preferences) Option {
	return func(e *Engine) { e.prefs = p }
}

// WithGraphSource makes Restart pick up the graph returned by fn, so a
// reloaded scene takes effect at the next restart. A nil result keeps the
// current graph.
func WithGraphSource(fn func() *scene.Graph) Option {
	return func(e *Engine) { e.source = fn }
}

// spoken remembers the last line handed to the speech port.
type spoken struct {
	line scene.LocalizedText
	role speech.Role

	// nodeID is set for node lines and empty for player lines.
	nodeID string
}

// Engine drives a single session. It is safe for concurrent use.
type Engine struct {
	sessionID string
	seq       *speech.Sequencer
	timer     speech.Backend
	device    speech.Backend
	recorder  *session.Recorder
	source    func() *scene.Graph
	listeners []Listener
	metrics   *observe.Metrics
	logger    *slog.Logger

	inbox     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	graph       *scene.Graph
	phase       Phase
	node        *scene.Node
	prefs       Preferences
	lastSpeaker string
	last        spoken

	// advanceOn is the token whose completion moves an NPC line into the
	// following pick. followAfter is the token (a player line) whose
	// completion speaks the current node's line.
	advanceOn   speech.Token
	followAfter speech.Token

	summary *recap.Summary
	halted  *ActionError
}

// New creates an Engine for g and starts its loop. The session is not
// started; call [Engine.Start]. Call [Engine.Close] to release the loop.
func New(g *scene.Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("engine: scene graph is required")
	}
	e := &Engine{
		recorder: session.NewRecorder(),
		logger:   slog.Default(),
		inbox:    make(chan func(), inboxSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		graph:    g,
		phase:    PhaseUnstarted,
		prefs:    DefaultPreferences(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.sessionID == "" {
		e.sessionID = uuid.NewString()
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.timer == nil {
		e.timer = speech.NewTimer()
	}
	if e.prefs.Lang == "" {
		e.prefs.Lang = scene.LangOff
	}
	if e.prefs.Audio && e.device == nil {
		return nil, &ActionError{Action: "new", Kind: KindAudioUnavailable}
	}
	e.logger = e.logger.With("session_id", e.sessionID)
	e.seq = speech.NewSequencer(e.backend(),
		speech.WithOnComplete(e.onComplete),
		speech.WithSequencerLogger(e.logger),
	)

	e.metrics.ActiveSessions.Add(context.Background(), 1)
	go e.run()
	return e, nil
}

// SessionID returns the session's id.
func (e *Engine) SessionID() string { return e.sessionID }

// Start enters the graph's start node. It fails with [ErrValidation] when
// the graph has validation issues and with [ErrInvalidTransition] when the
// session was already started.
func (e *Engine) Start(ctx context.Context) error {
	return e.do(ctx, "start", e.start)
}

// Restart discards all scene progress and starts again from the start node.
// Preferences are kept. Restart works from any state, including a halted
// session.
func (e *Engine) Restart(ctx context.Context) error {
	return e.do(ctx, "restart", e.restart)
}

// Advance moves past the current NPC line. It is only valid at an NPC node.
func (e *Engine) Advance(ctx context.Context) error {
	return e.do(ctx, "advance", e.advance)
}

// Choose selects optionID at pick node pickID.
func (e *Engine) Choose(ctx context.Context, pickID, optionID string) error {
	return e.do(ctx, "choose", func(ctx context.Context) error {
		return e.choose(ctx, pickID, optionID)
	})
}

// ToggleLanguage cycles the subtitle language off → zh → ja → off and
// re-speaks the current line.
func (e *Engine) ToggleLanguage(ctx context.Context) (scene.Lang, error) {
	var lang scene.Lang
	err := e.do(ctx, "toggle_language", func(ctx context.Context) error {
		lang = e.toggleLanguage(ctx)
		return nil
	})
	if err != nil {
		return "", err
	}
	return lang, nil
}

// ToggleExplain flips explain mode. It does not affect transitions.
func (e *Engine) ToggleExplain(ctx context.Context) (bool, error) {
	var on bool
	err := e.do(ctx, "toggle_explain", func(context.Context) error {
		e.prefs.Explain = !e.prefs.Explain
		on = e.prefs.Explain
		e.emit(PreferencesChanged{Prefs: e.prefs})
		return nil
	})
	if err != nil {
		return false, err
	}
	return on, nil
}

// SetAudio switches between the audio device and the reading-time timer and
// re-speaks the current line on the new backend.
func (e *Engine) SetAudio(ctx context.Context, enabled bool) error {
	return e.do(ctx, "set_audio", func(ctx context.Context) error {
		return e.setAudio(ctx, enabled)
	})
}

// Replay speaks the last line again with the same voice.
func (e *Engine) Replay(ctx context.Context) error {
	return e.do(ctx, "replay", e.replay)
}

// AnswerTransfer grades an answer to the recap's transfer check. It is only
// valid once the scene has ended.
func (e *Engine) AnswerTransfer(ctx context.Context, choiceID string) (recap.TransferResult, error) {
	var res recap.TransferResult
	err := e.do(ctx, "answer_transfer", func(ctx context.Context) error {
		var err error
		res, err = e.answerTransfer(ctx, choiceID)
		return err
	})
	if err != nil {
		return recap.TransferResult{}, err
	}
	return res, nil
}

// State returns a snapshot of the session.
func (e *Engine) State(ctx context.Context) (State, error) {
	var s State
	err := e.do(ctx, "state", func(context.Context) error {
		s = e.snapshot()
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return s, nil
}

// Close stops the loop and cancels any in-flight utterance. Actions issued
// afterwards fail with [ErrClosed]. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.loopDone
		e.seq.Cancel()
		e.metrics.ActiveSessions.Add(context.Background(), -1)
		e.logger.Debug("engine: closed")
	})
	return nil
}

// ─── loop ────────────────────────────────────────────────────────────────────

func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case job := <-e.inbox:
			job()
		case <-e.quit:
			return
		}
	}
}

// post queues job unless the engine is closed.
func (e *Engine) post(job func()) {
	select {
	case e.inbox <- job:
	case <-e.quit:
	}
}

// onComplete is the sequencer's completion hook. A backend may complete
// synchronously from inside Speak, which runs on the loop goroutine, so the
// completion is queued from a fresh goroutine.
func (e *Engine) onComplete(u speech.Utterance) {
	go e.post(func() { e.completed(u) })
}

// do runs fn on the loop goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, action string, fn func(context.Context) error) error {
	ctx, span := observe.StartSessionSpan(ctx, e.sessionID, action)
	defer span.End()

	start := time.Now()
	reply := make(chan error, 1)
	job := func() {
		// The caller may have given up while the job was queued.
		if err := ctx.Err(); err != nil {
			reply <- err
			return
		}
		reply <- fn(ctx)
	}

	var err error
	select {
	case e.inbox <- job:
		select {
		case err = <-reply:
		case <-e.loopDone:
			select {
			case err = <-reply:
			default:
				err = &ActionError{Action: action, Kind: KindClosed}
			}
		case <-ctx.Done():
			err = ctx.Err()
		}
	case <-e.quit:
		err = &ActionError{Action: action, Kind: KindClosed}
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.metrics.ActionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("action", action)),
	)
	if err != nil {
		kind := KindOf(err)
		e.metrics.RecordActionError(ctx, action, string(kind))
		observe.FailSpan(span, err)
		observe.SessionLogger(ctx, e.sessionID).Warn("engine: action rejected",
			"action", action,
			"kind", kind,
			"err", err,
		)
	}
	return err
}

// ─── handlers (loop goroutine only) ──────────────────────────────────────────

func (e *Engine) start(ctx context.Context) error {
	if e.halted != nil {
		return e.halted
	}
	if e.phase != PhaseUnstarted {
		return invalidTransition("start", e.nodeID(), "session already started")
	}
	return e.begin(ctx, "start")
}

func (e *Engine) restart(ctx context.Context) error {
	e.silence()
	e.recorder.Reset()
	e.phase = PhaseUnstarted
	e.node = nil
	e.lastSpeaker = ""
	e.last = spoken{}
	e.summary = nil
	e.halted = nil
	if e.source != nil {
		if g := e.source(); g != nil {
			e.graph = g
		}
	}
	return e.begin(ctx, "restart")
}

func (e *Engine) begin(ctx context.Context, action string) error {
	if err := e.graph.Err(); err != nil {
		return &ActionError{Action: action, Kind: KindValidation, Err: err}
	}
	e.logger.Info("engine: session started",
		"scene_id", e.graph.Meta().ID,
		"start", e.graph.Start(),
	)
	return e.transition(ctx, action, e.graph.Start())
}

func (e *Engine) advance(ctx context.Context) error {
	if e.halted != nil {
		return e.halted
	}
	if e.phase != PhaseNPC {
		return invalidTransition("advance", e.nodeID(), "advance is only valid at an npc line, phase is %s", e.phase)
	}
	return e.transition(ctx, "advance", e.node.NPC.Next)
}

func (e *Engine) choose(ctx context.Context, pickID, optionID string) error {
	if e.halted != nil {
		return e.halted
	}
	if e.phase != PhasePick {
		return invalidTransition("choose", pickID, "no pick is current, phase is %s", e.phase)
	}
	if pickID != e.node.ID {
		return invalidTransition("choose", pickID, "current pick is %q", e.node.ID)
	}
	pick := e.node.Pick
	opt, ok := pick.Option(optionID)
	if !ok {
		return &ActionError{
			Action:   "choose",
			Kind:     KindInvalidChoice,
			NodeID:   pickID,
			OptionID: optionID,
			Err:      fmt.Errorf("pick has no option %q", optionID),
		}
	}
	target := opt.Followup()
	if _, ok := e.graph.Node(target); !ok {
		return e.halt(ctx, "choose", target)
	}

	rec := session.NewPickRecord(e.node.ID, pick, opt)
	e.recorder.Append(rec)
	e.metrics.RecordChoice(ctx, string(opt.Quality), opt.IsGracefulExit)
	e.logger.Debug("engine: option chosen",
		"node_id", pickID,
		"option_id", optionID,
		"quality", opt.Quality,
	)

	cues := opt.Cues()
	e.emit(OptionChosen{
		Record:   rec,
		Cues:     cues,
		Reaction: reactionLine(e.graph.SpeakerName(e.lastSpeaker), cues, opt.Quality, opt.IsGracefulExit),
		Tone:     opt.Tone,
		Explain:  opt.Explain,
	})

	e.silence()
	h := e.speak(ctx, opt.LocalizedText, speech.RolePlayer, "")
	if err := e.enter(ctx, "choose", target); err != nil {
		return err
	}
	if e.phase == PhaseNPC || e.phase == PhaseEnd {
		e.followAfter = h.Token()
	}
	return nil
}

func (e *Engine) toggleLanguage(ctx context.Context) scene.Lang {
	e.prefs.Lang = e.prefs.Lang.Next()
	e.emit(PreferencesChanged{Prefs: e.prefs})
	e.respeak(ctx)
	return e.prefs.Lang
}

func (e *Engine) setAudio(ctx context.Context, enabled bool) error {
	if enabled && e.device == nil {
		return &ActionError{Action: "set_audio", Kind: KindAudioUnavailable}
	}
	if e.prefs.Audio == enabled {
		return nil
	}
	e.prefs.Audio = enabled
	e.seq.SetBackend(e.backend())
	e.emit(PreferencesChanged{Prefs: e.prefs})
	e.respeak(ctx)
	return nil
}

func (e *Engine) replay(ctx context.Context) error {
	if e.halted != nil {
		return e.halted
	}
	if e.last.role == "" {
		return invalidTransition("replay", e.nodeID(), "nothing has been spoken yet")
	}
	last := e.last
	following := e.followAfter != 0

	e.silence()
	h := e.speak(ctx, last.line, last.role, last.nodeID)
	switch {
	case last.role == speech.RolePlayer && following:
		e.followAfter = h.Token()
	case e.phase == PhaseNPC && last.nodeID == e.node.ID && e.autoAdvances(e.node):
		e.advanceOn = h.Token()
	}
	return nil
}

func (e *Engine) answerTransfer(ctx context.Context, choiceID string) (recap.TransferResult, error) {
	if e.halted != nil {
		return recap.TransferResult{}, e.halted
	}
	if e.phase != PhaseEnd || e.summary == nil {
		return recap.TransferResult{}, invalidTransition("answer_transfer", e.nodeID(), "the transfer check opens after the scene ends")
	}
	res, err := e.summary.Transfer.Answer(choiceID)
	if err != nil {
		return recap.TransferResult{}, &ActionError{
			Action:   "answer_transfer",
			Kind:     KindInvalidChoice,
			OptionID: choiceID,
			Err:      err,
		}
	}
	e.silence()
	e.speak(ctx, scene.LocalizedText{En: res.Choice.Text}, speech.RolePlayer, "")
	e.metrics.RecordTransferAnswer(ctx, res.Correct)
	e.emit(TransferAnswered{Result: res})
	return res, nil
}

// completed handles a completion the sequencer accepted. Tokens that no
// longer match a pending follow-up or auto-advance are ignored.
func (e *Engine) completed(u speech.Utterance) {
	if e.halted != nil {
		return
	}
	ctx := context.Background()
	switch u.Token {
	case e.followAfter:
		e.followAfter = 0
		e.speakNode(ctx)
	case e.advanceOn:
		e.advanceOn = 0
		if e.phase != PhaseNPC {
			return
		}
		ctx, span := observe.StartSessionSpan(ctx, e.sessionID, "auto_advance")
		defer span.End()
		observe.FailSpan(span, e.transition(ctx, "auto_advance", e.node.NPC.Next))
	}
}

// ─── transitions ─────────────────────────────────────────────────────────────

// transition cancels speech, enters target and speaks its line.
func (e *Engine) transition(ctx context.Context, action, target string) error {
	e.silence()
	if err := e.enter(ctx, action, target); err != nil {
		return err
	}
	e.speakNode(ctx)
	return nil
}

// enter makes node id current and emits NodeEntered. An unresolvable id
// halts the session.
func (e *Engine) enter(ctx context.Context, action, id string) error {
	n, ok := e.graph.Node(id)
	if !ok || !hasPayload(n) {
		return e.halt(ctx, action, id)
	}
	e.node = n
	e.phase = phaseOf(n.Kind)

	ev := NodeEntered{NodeID: n.ID, Kind: n.Kind, Node: *n}
	if n.Kind == scene.KindNPC {
		e.lastSpeaker = n.NPC.Speaker
		ev.Speaker = e.graph.SpeakerName(n.NPC.Speaker)
		ev.AutoAdvance = e.autoAdvances(n)
	}
	e.logger.Debug("engine: node entered", "node_id", n.ID, "kind", n.Kind)
	e.emit(ev)

	if n.Kind == scene.KindEnd {
		e.finish(ctx)
	}
	return nil
}

func (e *Engine) finish(ctx context.Context) {
	end := e.node.End
	s := recap.Generate(end.Ending, e.recorder.Records())
	e.summary = &s
	e.metrics.RecordEnding(ctx, end.Ending)
	e.logger.Info("engine: scene ended",
		"node_id", e.node.ID,
		"ending", end.Ending,
		"picks", s.Picks,
	)
	e.emit(SceneEnded{NodeID: e.node.ID, Ending: end.Ending})
	e.emit(RecapReady{Summary: s})
}

func (e *Engine) halt(ctx context.Context, action, id string) error {
	err := &ActionError{
		Action: action,
		Kind:   KindRuntimeInvariant,
		NodeID: id,
		Err:    fmt.Errorf("node %q does not resolve", id),
	}
	e.silence()
	e.halted = err
	observe.SessionLogger(ctx, e.sessionID).Error("engine: session halted",
		"node_id", id,
		"err", err,
	)
	e.emit(SessionHalted{NodeID: id, Error: err.Error()})
	return err
}

// speakNode speaks the current NPC or end line and arms the auto-advance
// when the line leads into a pick.
func (e *Engine) speakNode(ctx context.Context) {
	if e.phase != PhaseNPC && e.phase != PhaseEnd {
		return
	}
	h := e.speak(ctx, e.node.Line(), speech.RoleNPC, e.node.ID)
	if e.autoAdvances(e.node) {
		e.advanceOn = h.Token()
	}
}

func (e *Engine) speak(ctx context.Context, line scene.LocalizedText, role speech.Role, nodeID string) *speech.Handle {
	h := e.seq.Speak(line.En, role)
	e.last = spoken{line: line, role: role, nodeID: nodeID}
	e.metrics.RecordUtterance(ctx, string(role), e.backendName())
	e.emit(SpeechStarted{Utterance: h.Utterance(), Subtitle: line.In(e.prefs.Lang)})
	return h
}

// respeak cancels speech and speaks the current line again.
func (e *Engine) respeak(ctx context.Context) {
	e.silence()
	if e.halted != nil || e.node == nil {
		return
	}
	e.speakNode(ctx)
}

// silence cancels the in-flight utterance and everything waiting on it.
func (e *Engine) silence() {
	e.seq.Cancel()
	e.advanceOn = 0
	e.followAfter = 0
}

func (e *Engine) autoAdvances(n *scene.Node) bool {
	if n == nil || n.Kind != scene.KindNPC || n.NPC == nil {
		return false
	}
	next, ok := e.graph.Node(n.NPC.Next)
	return ok && next.Kind == scene.KindPick
}

func (e *Engine) snapshot() State {
	s := State{
		SessionID: e.sessionID,
		SceneID:   e.graph.Meta().ID,
		Phase:     e.phase,
		Picks:     e.recorder.Records(),
		Prefs:     e.prefs,
		Speaking:  e.seq.Current(),
	}
	if e.node != nil {
		s.NodeID = e.node.ID
		s.Kind = e.node.Kind
		s.AwaitingContinue = e.phase == PhaseNPC && !e.autoAdvances(e.node)
	}
	if u, ok := e.seq.Last(); ok {
		s.Last = &u
	}
	if e.summary != nil {
		sum := *e.summary
		s.Summary = &sum
	}
	if e.halted != nil {
		s.Halted = e.halted.Error()
	}
	return s
}

func (e *Engine) emit(ev Event) {
	for _, l := range e.listeners {
		l(ev)
	}
}

func (e *Engine) nodeID() string {
	if e.node == nil {
		return ""
	}
	return e.node.ID
}

func (e *Engine) backend() speech.Backend {
	if e.prefs.Audio {
		return e.device
	}
	return e.timer
}

func (e *Engine) backendName() string {
	if e.prefs.Audio {
		return "device"
	}
	return "timer"
}

func hasPayload(n *scene.Node) bool {
	switch n.Kind {
	case scene.KindNPC:
		return n.NPC != nil
	case scene.KindPick:
		return n.Pick != nil
	case scene.KindEnd:
		return n.End != nil
	}
	return false
}

// reactionLine describes how speaker takes a choice.
func reactionLine(speaker string, cues scene.Nonverbal, q scene.Quality, gracefulExit bool) string {
	face := cmp.Or(cues.Face, "neutral")
	beat := cmp.Or(cues.Beat, "neutral")
	switch {
	case gracefulExit:
		return speaker + " receives it warmly and gives you space."
	case q == scene.QualityAwkward:
		return fmt.Sprintf("There is a noticeable pause. %s’s %s shows it. (%s)", speaker, face, beat)
	case q == scene.QualityOff:
		return speaker + " keeps it going, but the vibe dips slightly."
	}
	return speaker + " reacts smoothly and stays playful."
}
