// Package conversation runs the trigger-capture state machine for every
// live conversation.
//
// Each conversation is owned by one actor goroutine. Chunks for the same
// conversation are applied in arrival order; different conversations
// advance independently. Refinement and persistence run after the state
// change is committed, outside the actor, so a slow refinement call never
// holds up ingestion.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/observability/logging"
	"ai-voice-command-service/internal/observability/metrics"
	"ai-voice-command-service/internal/service/artifact"
	"ai-voice-command-service/internal/service/capture"
	"ai-voice-command-service/internal/service/command"
	"ai-voice-command-service/internal/service/gate"
	"ai-voice-command-service/internal/service/guard"
	"ai-voice-command-service/internal/service/refine"
	"ai-voice-command-service/internal/service/trigger"
	"ai-voice-command-service/internal/store"
)

// ErrClosed is returned once the engine has been closed.
var ErrClosed = errors.New("conversation: engine closed")

// Publisher announces persisted artifacts.
type Publisher interface {
	PublishArtifact(ctx context.Context, eventType string, a models.Artifact) error
}

// Config holds engine configuration.
type Config struct {
	Triggers      trigger.Config
	Limits        capture.Limits
	Policy        gate.Policy
	IdleTTL       time.Duration // Evict conversations with no chunk for this long; 0 disables
	RefineTimeout time.Duration
	InboxSize     int
	MaxBlockBytes int // Discard unterminated command blocks past this size; 0 keeps the default
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Triggers:      trigger.Default(),
		Limits:        capture.DefaultLimits(),
		Policy:        gate.DefaultPolicy(),
		IdleTTL:       2 * time.Hour,
		RefineTimeout: 30 * time.Second,
		InboxSize:     64,
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Refiner refine.Refiner
	Store   store.Store

	// Optional. Publisher may be nil; the rest default to a UUID mapper,
	// the wall clock and the global metrics.
	Publisher Publisher
	Mapper    *artifact.Mapper
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

// Command is a framed command block with its classified intent.
type Command struct {
	Block  command.Block
	Intent command.Intent
}

// Step is the committed outcome of one chunk. Captures and Commands are
// handed to Finish.
type Step struct {
	ConversationID string
	ChunkID        string
	Status         capture.Status
	Captures       []capture.Capture
	Commands       []Command
}

// Result is what OnChunk reports to the ingestion layer.
type Result struct {
	Status    capture.Status    `json:"status"`
	Artifacts []models.Artifact `json:"artifacts,omitempty"`
}

// SessionInfo is a read-only view of a conversation's state.
type SessionInfo struct {
	ConversationID string        `json:"conversationId"`
	State          capture.State `json:"state"`
	BufferedLines  int           `json:"bufferedLines"`
	Contributors   []string      `json:"contributors"`
	StartedAt      *time.Time    `json:"startedAt,omitempty"`
	StartChunkID   string        `json:"startChunkId,omitempty"`
	CommandActive  bool          `json:"commandActive"`
	Cursor         int           `json:"cursor"`
}

// Engine owns the per-conversation actors.
type Engine struct {
	matcher   trigger.Matcher
	commands  *command.Config
	limits    capture.Limits
	policy    gate.Policy
	refiner   refine.Refiner
	store     store.Store
	guard     *guard.Guard
	mapper    *artifact.Mapper
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time

	idleTTL       time.Duration
	refineTimeout time.Duration
	inboxSize     int

	mu     sync.Mutex
	actors map[string]*actor
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an engine and starts idle eviction when IdleTTL is set.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Refiner == nil || deps.Store == nil {
		return nil, errors.New("conversation: refiner and store are required")
	}
	if err := cfg.Triggers.Validate(); err != nil {
		return nil, fmt.Errorf("triggers: %w", err)
	}
	commands, err := command.NewConfig(cfg.Triggers.Command)
	if err != nil {
		return nil, fmt.Errorf("command config: %w", err)
	}
	if cfg.MaxBlockBytes > 0 {
		commands.MaxBlockBytes = cfg.MaxBlockBytes
	}
	matcher := cfg.Triggers.Chart.Matcher()
	commands.Claimed = matcher.Start

	policy := cfg.Policy
	if policy.RequiredParams == nil {
		policy.RequiredParams = commands.RequiredParams()
	}

	e := &Engine{
		matcher:       matcher,
		commands:      commands,
		limits:        cfg.Limits,
		policy:        policy,
		refiner:       deps.Refiner,
		store:         deps.Store,
		guard:         guard.New(deps.Store),
		mapper:        deps.Mapper,
		publisher:     deps.Publisher,
		metrics:       deps.Metrics,
		now:           deps.Now,
		idleTTL:       cfg.IdleTTL,
		refineTimeout: cfg.RefineTimeout,
		inboxSize:     cfg.InboxSize,
		actors:        make(map[string]*actor),
		stop:          make(chan struct{}),
	}
	if e.mapper == nil {
		e.mapper = artifact.NewMapper()
	}
	if e.metrics == nil {
		e.metrics = metrics.DefaultMetrics
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.inboxSize <= 0 {
		e.inboxSize = 64
	}

	if e.idleTTL > 0 {
		e.wg.Add(1)
		go e.janitor(max(e.idleTTL/4, time.Second))
	}
	return e, nil
}

// OnChunk advances the conversation with one cumulative chunk and then
// finishes any completed captures and commands. Once the chunk is applied
// the finish step ignores cancellation of ctx: the cursor has moved past
// the stop trigger and a redelivery would not complete the capture again.
func (e *Engine) OnChunk(ctx context.Context, c models.Chunk) (Result, error) {
	step, err := e.Advance(ctx, c)
	if err != nil {
		return Result{}, err
	}
	return e.Finish(context.WithoutCancel(ctx), step), nil
}

// Advance applies one chunk inside the conversation's serialized region:
// delta, trigger matching, capture and command state. It never calls
// out to refinement or the store.
func (e *Engine) Advance(ctx context.Context, c models.Chunk) (*Step, error) {
	var step *Step
	_, err := e.do(ctx, c.ConversationID, true, func(st *state) {
		step = e.advance(st, c)
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (e *Engine) advance(st *state, c models.Chunk) *Step {
	log := logging.WithChunk(c.ConversationID, c.ChunkID)
	step := &Step{ConversationID: c.ConversationID, ChunkID: c.ChunkID}

	d := st.cursor.Advance(c.CumulativeText)
	e.metrics.RecordChunk(d == "")
	if d == "" {
		step.Status = capture.StatusIdle
		if st.session.State() == capture.StateCapturing {
			step.Status = capture.StatusCapturing
		}
		return step
	}

	now := e.now()
	cs := st.session.Feed(d, c.Speaker, c.ChunkID, now)
	step.Status = cs.Status
	if cs.Dropped != "" {
		e.metrics.RecordCaptureDropped(cs.Dropped)
		log.Warn().Str("reason", cs.Dropped).Msg("Capture discarded after exceeding limit")
	}
	for _, done := range cs.Completed {
		e.metrics.RecordTrigger("stop")
		e.metrics.RecordCaptureCompleted(done.OneShot, now.Sub(done.StartedAt).Seconds())
		log.Info().
			Bool("oneShot", done.OneShot).
			Int("lines", len(done.Lines)).
			Str("startChunkId", done.StartChunkID).
			Msg("Capture completed")
	}
	if cs.Status == capture.StatusStarted || (cs.Status == capture.StatusCompleted && st.session.State() == capture.StateCapturing) {
		e.metrics.RecordTrigger("start")
		e.metrics.RecordCaptureStarted()
		log.Info().Msg("Capture started")
	}
	step.Captures = cs.Completed

	blocks, dropped := st.framer.Feed(d, c.ChunkID)
	if dropped {
		e.metrics.RecordCommandDropped("max_bytes")
		log.Warn().Msg("Command block discarded after exceeding size limit")
	}
	for _, b := range blocks {
		e.metrics.RecordTrigger("command")
		intent, ok := e.commands.Classify(b.Text)
		if !ok {
			e.metrics.RecordCommandFiltered()
			log.Debug().Str("block", b.Text).Msg("Command block has no plausible intent")
			continue
		}
		e.metrics.RecordCommandFramed(intent.Kind)
		log.Info().Str("intent", intent.Kind).Str("block", b.Text).Msg("Command framed")
		step.Commands = append(step.Commands, Command{Block: b, Intent: intent})
	}
	return step
}

// ForceStop discards any in-progress capture and command block for the
// conversation. The cursor is kept so later resends stay no-ops. Returns
// true if something was discarded.
func (e *Engine) ForceStop(ctx context.Context, conversationID string) (bool, error) {
	var discarded bool
	_, err := e.do(ctx, conversationID, false, func(st *state) {
		capturing := st.session.ForceStop()
		framing := st.framer.Reset()
		if capturing {
			e.metrics.RecordCaptureDropped("force_stop")
		}
		if framing {
			e.metrics.RecordCommandDropped("force_stop")
		}
		discarded = capturing || framing
	})
	if err != nil {
		return false, err
	}
	if discarded {
		logging.WithConversation(conversationID).Info().Msg("Force-stopped conversation, partial capture discarded")
	}
	return discarded, nil
}

// Session returns a snapshot of the conversation's state. ok is false
// when the conversation has no live state.
func (e *Engine) Session(ctx context.Context, conversationID string) (info SessionInfo, ok bool, err error) {
	ok, err = e.do(ctx, conversationID, false, func(st *state) {
		info = SessionInfo{
			ConversationID: conversationID,
			State:          st.session.State(),
			BufferedLines:  len(st.session.Lines()),
			Contributors:   st.session.Contributors(),
			StartChunkID:   st.session.StartChunkID(),
			CommandActive:  st.framer.Active(),
			Cursor:         st.cursor.Position(),
		}
		if info.Contributors == nil {
			info.Contributors = []string{}
		}
		if t := st.session.StartedAt(); !t.IsZero() {
			info.StartedAt = &t
		}
	})
	return info, ok, err
}

// Active returns the number of conversations with live state.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actors)
}

// Ready reports whether the engine accepts chunks and its store answers.
func (e *Engine) Ready(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return e.store.Ping(ctx)
}

// Close stops every actor after it drains queued chunks.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	actors := make([]*actor, 0, len(e.actors))
	for id, a := range e.actors {
		actors = append(actors, a)
		delete(e.actors, id)
		e.metrics.RecordConversationEnd("shutdown")
	}
	e.mu.Unlock()

	for _, a := range actors {
		close(a.quit)
	}
	for _, a := range actors {
		<-a.done
	}
	e.wg.Wait()
	return nil
}

// do runs fn on the conversation's actor. Without create, a missing
// conversation reports ok=false and fn is not run.
func (e *Engine) do(ctx context.Context, id string, create bool, fn func(*state)) (ok bool, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	a, found := e.actors[id]
	if !found {
		if !create {
			e.mu.Unlock()
			return false, nil
		}
		a = e.spawnLocked(id)
	}
	a.pending++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		a.pending--
		a.lastUsed = e.now()
		e.mu.Unlock()
	}()

	if err := a.call(ctx, fn); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) spawnLocked(id string) *actor {
	a := newActor(id, e.inboxSize, e.now())
	st := &state{
		id:      id,
		session: capture.NewSession(id, e.matcher, e.limits),
		framer:  command.NewFramer(e.commands),
	}
	e.actors[id] = a
	e.metrics.RecordConversationStart()
	go a.run(st)
	return a
}

func (e *Engine) janitor(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.evictIdle(); n > 0 {
				logging.WithComponent("conversation").Debug().Int("evicted", n).Msg("Evicted idle conversations")
			}
		}
	}
}

// evictIdle removes conversations that have no queued work and have been
// idle for at least IdleTTL.
func (e *Engine) evictIdle() int {
	now := e.now()
	var evicted []*actor

	e.mu.Lock()
	for id, a := range e.actors {
		if a.pending == 0 && now.Sub(a.lastUsed) >= e.idleTTL {
			delete(e.actors, id)
			evicted = append(evicted, a)
			e.metrics.RecordConversationEnd("idle")
		}
	}
	e.mu.Unlock()

	for _, a := range evicted {
		close(a.quit)
	}
	return len(evicted)
}
