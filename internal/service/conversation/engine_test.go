package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/service/capture"
	"ai-voice-command-service/internal/service/refine"
	"ai-voice-command-service/internal/store"
)

type fakeRefiner struct {
	mu           sync.Mutex
	chartCalls   []string
	commandCalls []string

	chart   func(text string) (*refine.ChartProposal, error)
	command func(block, kind string) (*refine.CommandProposal, error)

	// When release is set, RefineCommand signals entered and waits.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRefiner) Name() string { return "fake" }

func (f *fakeRefiner) RefineChart(ctx context.Context, text string, contributors []string) (*refine.ChartProposal, error) {
	f.mu.Lock()
	f.chartCalls = append(f.chartCalls, text)
	fn := f.chart
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(text)
	}
	return &refine.ChartProposal{
		ChartType:  "bar",
		Title:      "Captured",
		Labels:     []string{"a", "b"},
		Values:     []float64{1, 2},
		Confidence: refine.Float(0.9),
	}, nil
}

func (f *fakeRefiner) RefineCommand(ctx context.Context, block, kind string) (*refine.CommandProposal, error) {
	f.mu.Lock()
	f.commandCalls = append(f.commandCalls, block)
	fn := f.command
	f.mu.Unlock()

	if f.release != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.release
	}
	if fn != nil {
		return fn(block, kind)
	}
	return &refine.CommandProposal{
		Intent:     kind,
		Parameters: map[string]string{"when": "friday 3pm", "summary": block},
		Confidence: refine.Float(0.9),
	}, nil
}

func (f *fakeRefiner) calls() (charts, commands []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.chartCalls...), append([]string(nil), f.commandCalls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishArtifact(ctx context.Context, eventType string, a models.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time

	// While hold is set, Now signals entered and blocks until hold closes.
	hold    chan struct{}
	entered chan struct{}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	hold, entered := c.hold, c.entered
	c.mu.Unlock()
	if hold != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-hold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Hold() (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
	c.entered = make(chan struct{}, 1)
	hold := c.hold
	return c.entered, func() { close(hold) }
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine    *Engine
	store     *store.Memory
	refiner   *fakeRefiner
	publisher *recordingPublisher
	clock     *clock
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemory(),
		refiner:   &fakeRefiner{},
		publisher: &recordingPublisher{},
		clock:     &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	}
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := New(cfg, Deps{
		Refiner:   f.refiner,
		Store:     f.store,
		Publisher: f.publisher,
		Now:       f.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	f.engine = e
	return f
}

func chunk(conv, text, speaker, id string) models.Chunk {
	return models.Chunk{ConversationID: conv, CumulativeText: text, Speaker: speaker, ChunkID: id}
}

func (f *fixture) send(t *testing.T, c models.Chunk) Result {
	t.Helper()
	res, err := f.engine.OnChunk(context.Background(), c)
	if err != nil {
		t.Fatalf("OnChunk(%s): %v", c.ChunkID, err)
	}
	return res
}

func TestEngine_BracketedCaptureAcrossDeltas(t *testing.T) {
	f := newFixture(t)

	texts := []string{
		"hello everyone start chart",
		"hello everyone start chart line A",
		"hello everyone start chart line A, line B",
		"hello everyone start chart line A, line B end chart and moving on",
	}
	want := []capture.Status{capture.StatusStarted, capture.StatusCapturing, capture.StatusCapturing, capture.StatusCompleted}

	var last Result
	for i, text := range texts {
		last = f.send(t, chunk("conv-1", text, "alice", fmt.Sprintf("c%d", i+1)))
		if last.Status != want[i] {
			t.Errorf("chunk %d: expected status %s, got %s", i+1, want[i], last.Status)
		}
	}

	charts, _ := f.refiner.calls()
	if len(charts) != 1 {
		t.Fatalf("expected one refinement, got %d", len(charts))
	}
	if charts[0] != "line A\nline B" {
		t.Errorf("expected captured lines A and B only, got %q", charts[0])
	}
	if len(last.Artifacts) != 1 || last.Artifacts[0].Kind != models.ArtifactChart {
		t.Fatalf("expected one chart artifact, got %+v", last.Artifacts)
	}
	chart := last.Artifacts[0].Chart
	if chart.StartChunkID != "c1" || chart.SourceChunkID != "c4" {
		t.Errorf("expected provenance c1..c4, got %s..%s", chart.StartChunkID, chart.SourceChunkID)
	}

	stored, _ := f.store.ListArtifacts(context.Background(), "conv-1")
	if len(stored) != 1 {
		t.Errorf("expected exactly one persisted artifact, got %d", len(stored))
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0] != models.EventChartCreated {
		t.Errorf("expected one chart.created event, got %v", f.publisher.events)
	}
}

func TestEngine_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	text := "start chart sales 10 marketing 20 end chart"

	first := f.send(t, chunk("conv-1", text, "alice", "c1"))
	if first.Status != capture.StatusCompleted {
		t.Fatalf("expected completed, got %s", first.Status)
	}

	second := f.send(t, chunk("conv-1", text, "alice", "c1"))
	if second.Status != capture.StatusIdle {
		t.Errorf("expected idle on resend, got %s", second.Status)
	}
	if len(second.Artifacts) != 0 {
		t.Errorf("expected no artifacts on resend, got %d", len(second.Artifacts))
	}

	shorter := f.send(t, chunk("conv-1", "start chart", "alice", "c0"))
	if shorter.Status != capture.StatusIdle {
		t.Errorf("expected idle for shorter text, got %s", shorter.Status)
	}

	charts, _ := f.refiner.calls()
	if len(charts) != 1 {
		t.Errorf("expected exactly one completion, got %d refinements", len(charts))
	}
}

func TestEngine_CursorMonotonic(t *testing.T) {
	f := newFixture(t)
	texts := []string{"a", "a b c", "a b", "a b c d", "", "a b c d"}

	prev := 0
	for i, text := range texts {
		f.send(t, chunk("conv-1", text, "alice", fmt.Sprintf("c%d", i)))
		info, ok, err := f.engine.Session(context.Background(), "conv-1")
		if err != nil || !ok {
			t.Fatalf("Session: ok=%v err=%v", ok, err)
		}
		if info.Cursor < prev {
			t.Errorf("cursor moved backward: %d -> %d", prev, info.Cursor)
		}
		prev = info.Cursor
	}
	if prev != len("a b c d") {
		t.Errorf("expected cursor %d, got %d", len("a b c d"), prev)
	}
}

func TestEngine_SameChunkStartStop(t *testing.T) {
	f := newFixture(t)

	res := f.send(t, chunk("conv-1", "please start chart q1 5, q2 7 end chart thanks", "bob", "c1"))
	if res.Status != capture.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	charts, _ := f.refiner.calls()
	if len(charts) != 1 || charts[0] != "q1 5, q2 7" {
		t.Fatalf("expected one capture of the between-text, got %q", charts)
	}

	info, _, _ := f.engine.Session(context.Background(), "conv-1")
	if info.State != capture.StateIdle {
		t.Errorf("expected session never left idle, got %s", info.State)
	}

	next := f.send(t, chunk("conv-1", "please start chart q1 5, q2 7 end chart thanks and more", "bob", "c2"))
	if next.Status != capture.StatusIdle {
		t.Errorf("expected idle on later delta, got %s", next.Status)
	}
}

func TestEngine_EmptyCaptureSkipsRefinement(t *testing.T) {
	f := newFixture(t)

	res := f.send(t, chunk("conv-1", "start chart end chart", "alice", "c1"))
	if res.Status != capture.StatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if charts, _ := f.refiner.calls(); len(charts) != 0 {
		t.Errorf("expected no refinement for empty capture, got %d", len(charts))
	}
}

func TestEngine_GateRejection(t *testing.T) {
	tests := []struct {
		name string
		prop *refine.ChartProposal
	}{
		{"mismatched lengths", &refine.ChartProposal{ChartType: "bar", Title: "x", Labels: []string{"a", "b"}, Values: []float64{1, 2, 3}}},
		{"low confidence", &refine.ChartProposal{ChartType: "bar", Title: "x", Labels: []string{"a", "b"}, Values: []float64{1, 2}, Confidence: refine.Float(0.2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.refiner.chart = func(string) (*refine.ChartProposal, error) { return tt.prop, nil }

			res := f.send(t, chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c1"))
			if res.Status != capture.StatusCompleted {
				t.Errorf("expected completed, got %s", res.Status)
			}
			if len(res.Artifacts) != 0 {
				t.Errorf("expected no artifact, got %d", len(res.Artifacts))
			}
			stored, _ := f.store.ListArtifacts(context.Background(), "conv-1")
			if len(stored) != 0 {
				t.Errorf("expected nothing persisted, got %d", len(stored))
			}
		})
	}
}

func TestEngine_RefinementFailureResetsSession(t *testing.T) {
	f := newFixture(t)
	f.refiner.chart = func(string) (*refine.ChartProposal, error) {
		return nil, fmt.Errorf("%w: connection refused", refine.ErrUnavailable)
	}

	res := f.send(t, chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c1"))
	if len(res.Artifacts) != 0 {
		t.Errorf("expected no artifact on refinement failure, got %d", len(res.Artifacts))
	}
	info, _, _ := f.engine.Session(context.Background(), "conv-1")
	if info.State != capture.StateIdle {
		t.Errorf("expected idle after failed refinement, got %s", info.State)
	}

	f.refiner.mu.Lock()
	f.refiner.chart = nil
	f.refiner.mu.Unlock()
	res = f.send(t, chunk("conv-1", "start chart a 1 b 2 end chart then start chart c 3 d 4 end chart", "alice", "c2"))
	if len(res.Artifacts) != 1 {
		t.Errorf("expected the next capture to succeed, got %d artifacts", len(res.Artifacts))
	}
}

func TestEngine_NoResultIsCleanNoOp(t *testing.T) {
	f := newFixture(t)
	f.refiner.chart = func(string) (*refine.ChartProposal, error) { return nil, refine.ErrNoResult }

	res := f.send(t, chunk("conv-1", "start chart nothing much end chart", "alice", "c1"))
	if res.Status != capture.StatusCompleted || len(res.Artifacts) != 0 {
		t.Errorf("expected completed with no artifact, got %s %d", res.Status, len(res.Artifacts))
	}
}

func TestEngine_CommandExample(t *testing.T) {
	f := newFixture(t)

	f.send(t, chunk("conv-1", "hey neuro schedule a meeting", "alice", "c1"))
	res := f.send(t, chunk("conv-1", "hey neuro schedule a meeting for friday at 3pm over", "alice", "c2"))

	_, commands := f.refiner.calls()
	if len(commands) != 1 {
		t.Fatalf("expected exactly one refinement, got %d", len(commands))
	}
	if commands[0] != "schedule a meeting for friday at 3pm" {
		t.Errorf("unexpected block %q", commands[0])
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Kind != models.ArtifactAutomation {
		t.Fatalf("expected one automation artifact, got %+v", res.Artifacts)
	}
	rec := res.Artifacts[0].Automation
	if rec.IntentKind != "schedule_meeting" || rec.Status != models.StatusPending {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.SourceChunkID != "c2" {
		t.Errorf("expected source chunk c2, got %s", rec.SourceChunkID)
	}

	// Resending does not frame the command again.
	f.send(t, chunk("conv-1", "hey neuro schedule a meeting for friday at 3pm over", "alice", "c2"))
	if _, commands := f.refiner.calls(); len(commands) != 1 {
		t.Errorf("expected no further refinement, got %d", len(commands))
	}
}

func TestEngine_CommandWithoutIntentIsFiltered(t *testing.T) {
	f := newFixture(t)

	f.send(t, chunk("conv-1", "hey neuro what is the weather over", "alice", "c1"))
	if _, commands := f.refiner.calls(); len(commands) != 0 {
		t.Errorf("expected pre-filter to skip refinement, got %d calls", len(commands))
	}
}

func TestEngine_ChartWakeIsNotACommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	text := "hey neuro create a chart sales were 10"
	f.send(t, chunk("conv-1", text, "alice", "c1"))
	info, _, _ := f.engine.Session(ctx, "conv-1")
	if info.State != capture.StateCapturing || info.CommandActive {
		t.Fatalf("expected chart capture without command block, got %+v", info)
	}

	text += " costs were 4 end chart"
	f.send(t, chunk("conv-1", text, "alice", "c2"))
	text += " hey neuro schedule a meeting friday over"
	f.send(t, chunk("conv-1", text, "alice", "c3"))

	_, commands := f.refiner.calls()
	if len(commands) != 1 || commands[0] != "schedule a meeting friday" {
		t.Errorf("expected only the meeting command refined, got %q", commands)
	}
}

func TestEngine_ExistingAutomationReturnedUnchanged(t *testing.T) {
	f := newFixture(t)

	first := f.send(t, chunk("conv-1", "hey neuro schedule a meeting friday over", "alice", "c1"))
	if len(first.Artifacts) != 1 {
		t.Fatalf("expected first automation, got %d", len(first.Artifacts))
	}
	id := first.Artifacts[0].ID()

	second := f.send(t, chunk("conv-1", "hey neuro schedule a meeting friday over hey neuro book a meeting monday over", "alice", "c2"))
	if len(second.Artifacts) != 1 || second.Artifacts[0].ID() != id {
		t.Fatalf("expected existing record %s, got %+v", id, second.Artifacts)
	}
	if _, commands := f.refiner.calls(); len(commands) != 1 {
		t.Errorf("expected no refinement for idempotent hit, got %d calls", len(commands))
	}
	if len(f.publisher.events) != 1 {
		t.Errorf("expected one created event, got %v", f.publisher.events)
	}
}

func TestEngine_ConcurrentSameKindYieldsOneRecord(t *testing.T) {
	f := newFixture(t)
	f.refiner.entered = make(chan struct{}, 4)
	f.refiner.release = make(chan struct{})
	ctx := context.Background()

	step1, err := f.engine.Advance(ctx, chunk("conv-1", "hey neuro schedule a meeting friday over", "alice", "c1"))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	step2, err := f.engine.Advance(ctx, chunk("conv-1", "hey neuro schedule a meeting friday over hey neuro book a meeting monday over", "bob", "c2"))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(step1.Commands) != 1 || len(step2.Commands) != 1 {
		t.Fatalf("expected one command per step, got %d and %d", len(step1.Commands), len(step2.Commands))
	}

	var wg sync.WaitGroup
	var firstResult Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstResult = f.engine.Finish(ctx, step1)
	}()

	<-f.refiner.entered
	secondResult := f.engine.Finish(ctx, step2)
	close(f.refiner.release)
	wg.Wait()

	if len(secondResult.Artifacts) != 0 {
		t.Errorf("expected in-flight duplicate to be a no-op, got %d artifacts", len(secondResult.Artifacts))
	}
	if len(firstResult.Artifacts) != 1 {
		t.Errorf("expected first finish to create the record, got %d", len(firstResult.Artifacts))
	}

	stored, _ := f.store.ListArtifacts(ctx, "conv-1")
	open := 0
	for _, a := range stored {
		if a.Automation != nil && !a.Automation.Status.IsTerminalNegative() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("expected exactly one non-terminal record, got %d", open)
	}
}

func TestEngine_RejectedAutomationFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.send(t, chunk("conv-1", "hey neuro schedule a meeting friday over", "alice", "c1"))
	if len(first.Artifacts) != 1 {
		t.Fatalf("expected first automation, got %d", len(first.Artifacts))
	}
	rec, err := f.engine.UpdateAutomation(ctx, first.Artifacts[0].ID(), models.StatusRejected)
	if err != nil {
		t.Fatalf("UpdateAutomation: %v", err)
	}
	if rec.Status != models.StatusRejected {
		t.Errorf("expected rejected, got %s", rec.Status)
	}

	second := f.send(t, chunk("conv-1", "hey neuro schedule a meeting friday over hey neuro book a meeting monday over", "alice", "c2"))
	if len(second.Artifacts) != 1 || second.Artifacts[0].ID() == first.Artifacts[0].ID() {
		t.Fatalf("expected a new record, got %+v", second.Artifacts)
	}

	if _, err := f.engine.UpdateAutomation(ctx, rec.ID, models.StatusApproved); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if got := f.publisher.events; len(got) != 3 || got[1] != models.EventAutomationUpdated {
		t.Errorf("expected created, updated, created events; got %v", got)
	}
}

func TestEngine_ForceStopDiscardsCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, chunk("conv-1", "start chart a 1 b 2", "alice", "c1"))
	discarded, err := f.engine.ForceStop(ctx, "conv-1")
	if err != nil || !discarded {
		t.Fatalf("expected capture discarded, got %v %v", discarded, err)
	}

	res := f.send(t, chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c2"))
	if res.Status != capture.StatusIdle {
		t.Errorf("expected stop while idle to be ignored, got %s", res.Status)
	}
	if charts, _ := f.refiner.calls(); len(charts) != 0 {
		t.Errorf("expected no refinement after force-stop, got %d", len(charts))
	}

	again, _ := f.engine.ForceStop(ctx, "conv-1")
	if again {
		t.Error("expected nothing to discard on second force-stop")
	}
	unknown, err := f.engine.ForceStop(ctx, "never-seen")
	if unknown || err != nil {
		t.Errorf("expected no-op for unknown conversation, got %v %v", unknown, err)
	}
	if f.engine.Active() != 1 {
		t.Errorf("expected force-stop not to create state, got %d active", f.engine.Active())
	}
}

func TestEngine_ForceStopDiscardsCommandBlock(t *testing.T) {
	f := newFixture(t)

	f.send(t, chunk("conv-1", "hey neuro schedule a meeting", "alice", "c1"))
	if discarded, _ := f.engine.ForceStop(context.Background(), "conv-1"); !discarded {
		t.Fatal("expected open command block discarded")
	}
	f.send(t, chunk("conv-1", "hey neuro schedule a meeting friday over", "alice", "c2"))
	if _, commands := f.refiner.calls(); len(commands) != 0 {
		t.Errorf("expected no command after force-stop, got %d", len(commands))
	}
}

func TestEngine_CaptureMaxLines(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Limits.MaxLines = 2 })

	text := "start chart"
	for i, line := range []string{" one", " two", " three"} {
		text += line
		f.send(t, chunk("conv-1", text, "alice", fmt.Sprintf("c%d", i)))
	}
	res := f.send(t, chunk("conv-1", text+" end chart", "alice", "c9"))
	if res.Status == capture.StatusCompleted {
		t.Error("expected over-limit capture to be discarded before the stop trigger")
	}
	if charts, _ := f.refiner.calls(); len(charts) != 0 {
		t.Errorf("expected no refinement, got %d", len(charts))
	}
}

func TestEngine_CaptureMaxDuration(t *testing.T) {
	f := newFixture(t)

	f.send(t, chunk("conv-1", "start chart a 1", "alice", "c1"))
	f.clock.Add(11 * time.Minute)
	res := f.send(t, chunk("conv-1", "start chart a 1 b 2", "alice", "c2"))
	if res.Status != capture.StatusIdle {
		t.Errorf("expected expired capture dropped, got %s", res.Status)
	}
	res = f.send(t, chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c3"))
	if res.Status != capture.StatusIdle {
		t.Errorf("expected stop after drop to be ignored, got %s", res.Status)
	}
	if charts, _ := f.refiner.calls(); len(charts) != 0 {
		t.Errorf("expected no refinement, got %d", len(charts))
	}
}

func TestEngine_StopTriggerWinsAtLimits(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Limits.MaxLines = 2
		c.Limits.MaxDuration = 10 * time.Minute
	})

	text := "start chart"
	for i, line := range []string{" one", " two"} {
		text += line
		f.send(t, chunk("conv-1", text, "alice", fmt.Sprintf("c%d", i)))
	}
	res := f.send(t, chunk("conv-1", text+" end chart", "alice", "c9"))
	if res.Status != capture.StatusCompleted || len(res.Artifacts) != 1 {
		t.Errorf("expected capture at the line limit to complete, got %s with %d artifacts", res.Status, len(res.Artifacts))
	}

	f.send(t, chunk("conv-2", "start chart a 1", "alice", "c1"))
	f.clock.Add(11 * time.Minute)
	res = f.send(t, chunk("conv-2", "start chart a 1 b 2 end chart", "alice", "c2"))
	if res.Status != capture.StatusCompleted || len(res.Artifacts) != 1 {
		t.Errorf("expected late stop trigger to complete, got %s with %d artifacts", res.Status, len(res.Artifacts))
	}
}

func TestEngine_CancelAfterQueueStillFinishesCapture(t *testing.T) {
	f := newFixture(t)

	f.send(t, chunk("conv-1", "start chart a 1", "alice", "c1"))

	entered, release := f.clock.Hold()
	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.engine.OnChunk(ctx, chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c2"))
		done <- outcome{res, err}
	}()

	<-entered
	cancel()
	release()

	got := <-done
	if got.err != nil {
		t.Fatalf("expected queued chunk to be applied, got %v", got.err)
	}
	if got.res.Status != capture.StatusCompleted || len(got.res.Artifacts) != 1 {
		t.Fatalf("expected completed capture with one artifact, got %s with %d", got.res.Status, len(got.res.Artifacts))
	}

	again := f.send(t, chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c2"))
	if len(again.Artifacts) != 0 {
		t.Errorf("expected redelivery to be a no-op, got %d artifacts", len(again.Artifacts))
	}
	stored, _ := f.store.ListArtifacts(context.Background(), "conv-1")
	if len(stored) != 1 {
		t.Errorf("expected exactly one stored chart, got %d", len(stored))
	}
}

func TestEngine_CancelledChunkIsRedeliverable(t *testing.T) {
	f := newFixture(t)

	f.send(t, chunk("conv-1", "start chart a 1", "alice", "c1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	final := chunk("conv-1", "start chart a 1 b 2 end chart", "alice", "c2")
	if _, err := f.engine.OnChunk(ctx, final); err != nil {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		// Not applied, so redelivery completes the capture.
		f.send(t, final)
	}

	stored, _ := f.store.ListArtifacts(context.Background(), "conv-1")
	if len(stored) != 1 {
		t.Errorf("expected exactly one stored chart, got %d", len(stored))
	}
}

func TestEngine_StoreConflictReturnsWinnerRecord(t *testing.T) {
	ctx := context.Background()
	shared, err := store.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { shared.Close() })

	slowRefiner := &fakeRefiner{entered: make(chan struct{}, 1), release: make(chan struct{})}
	slowPub := &recordingPublisher{}
	slow, err := New(DefaultConfig(), Deps{Refiner: slowRefiner, Store: shared, Publisher: slowPub})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { slow.Close() })
	fast, err := New(DefaultConfig(), Deps{Refiner: &fakeRefiner{}, Store: shared})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { fast.Close() })

	c := chunk("conv-1", "hey neuro schedule a meeting friday over", "alice", "c1")
	done := make(chan Result, 1)
	go func() {
		res, _ := slow.OnChunk(ctx, c)
		done <- res
	}()

	<-slowRefiner.entered
	winner, err := fast.OnChunk(ctx, c)
	if err != nil || len(winner.Artifacts) != 1 {
		t.Fatalf("expected the other engine to create the record, got %+v %v", winner, err)
	}
	close(slowRefiner.release)

	res := <-done
	if len(res.Artifacts) != 1 || res.Artifacts[0].ID() != winner.Artifacts[0].ID() {
		t.Fatalf("expected winner record %s, got %+v", winner.Artifacts[0].ID(), res.Artifacts)
	}
	if len(slowPub.events) != 0 {
		t.Errorf("expected no event for an existing record, got %v", slowPub.events)
	}
}

func TestEngine_ConversationsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv := fmt.Sprintf("conv-%d", i)
			text := ""
			for j, part := range []string{"start chart", " x 1", " y 2", " end chart"} {
				text += part
				if _, err := f.engine.OnChunk(ctx, chunk(conv, text, "alice", fmt.Sprintf("c%d", j))); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("OnChunk: %v", err)
	}

	for i := 0; i < n; i++ {
		stored, _ := f.store.ListArtifacts(ctx, fmt.Sprintf("conv-%d", i))
		if len(stored) != 1 {
			t.Errorf("conv-%d: expected one artifact, got %d", i, len(stored))
		}
	}
}

func TestEngine_SameConversationKeepsArrivalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var texts []string
	text := ""
	for i := 0; i < 50; i++ {
		text += fmt.Sprintf(" w%d", i)
		texts = append(texts, text)
	}
	for i, txt := range texts {
		if _, err := f.engine.Advance(ctx, chunk("conv-1", txt, "alice", fmt.Sprintf("c%d", i))); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	info, _, _ := f.engine.Session(ctx, "conv-1")
	if info.Cursor != len(text) {
		t.Errorf("expected cursor at %d, got %d", len(text), info.Cursor)
	}
}

func TestEngine_SessionInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, ok, _ := f.engine.Session(ctx, "conv-1"); ok {
		t.Error("expected no session before first chunk")
	}

	f.send(t, chunk("conv-1", "start chart revenue 5", "alice", "c1"))
	f.send(t, chunk("conv-1", "start chart revenue 5 costs 3", "bob", "c2"))

	info, ok, err := f.engine.Session(ctx, "conv-1")
	if err != nil || !ok {
		t.Fatalf("Session: ok=%v err=%v", ok, err)
	}
	if info.State != capture.StateCapturing {
		t.Errorf("expected capturing, got %s", info.State)
	}
	if info.BufferedLines != 2 {
		t.Errorf("expected 2 buffered lines, got %d", info.BufferedLines)
	}
	if strings.Join(info.Contributors, ",") != "alice,bob" {
		t.Errorf("expected contributors alice,bob; got %v", info.Contributors)
	}
	if info.StartChunkID != "c1" || info.StartedAt == nil {
		t.Errorf("unexpected provenance %+v", info)
	}
}

func TestEngine_EvictIdle(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IdleTTL = time.Hour })
	ctx := context.Background()

	f.send(t, chunk("conv-1", "hello", "alice", "c1"))
	f.clock.Add(30 * time.Minute)
	f.send(t, chunk("conv-2", "hello", "bob", "c1"))

	f.clock.Add(45 * time.Minute)
	if n := f.engine.evictIdle(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, ok, _ := f.engine.Session(ctx, "conv-1"); ok {
		t.Error("expected conv-1 evicted")
	}
	if _, ok, _ := f.engine.Session(ctx, "conv-2"); !ok {
		t.Error("expected conv-2 kept")
	}
}

func TestEngine_Close(t *testing.T) {
	f := newFixture(t)
	f.send(t, chunk("conv-1", "hello", "alice", "c1"))

	if err := f.engine.Ready(context.Background()); err != nil {
		t.Errorf("expected ready engine, got %v", err)
	}
	if err := f.engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := f.engine.OnChunk(context.Background(), chunk("conv-1", "hello there", "alice", "c2")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := f.engine.Ready(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected closed engine to be unready, got %v", err)
	}
	if err := f.engine.Close(); err != nil {
		t.Errorf("expected second Close to be a no-op, got %v", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Error("expected error without refiner and store")
	}
}
