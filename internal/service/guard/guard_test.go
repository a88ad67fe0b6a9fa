package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/store"
)

var key = Key{ConversationID: "conv-1", IntentKind: "schedule_meeting"}

func persistingCreate(s store.Store, id string) CreateFunc {
	return func(ctx context.Context) (*models.AutomationRecord, error) {
		rec := &models.AutomationRecord{
			ID:             id,
			ConversationID: key.ConversationID,
			IntentKind:     key.IntentKind,
			Parameters:     map[string]string{"when": "friday"},
			Status:         models.StatusPending,
			CreatedAt:      time.Now(),
			UpdatedAt:      time.Now(),
		}
		if err := s.PersistArtifact(ctx, models.Artifact{Kind: models.ArtifactAutomation, Automation: rec}); err != nil {
			return nil, err
		}
		return rec, nil
	}
}

func TestGuard_CreatesThenReturnsExisting(t *testing.T) {
	s := store.NewMemory()
	g := New(s)

	res, err := g.Run(context.Background(), key, persistingCreate(s, "au-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeCreated || res.Record.ID != "au-1" {
		t.Fatalf("expected created au-1, got %s %+v", res.Outcome, res.Record)
	}

	called := false
	res, err = g.Run(context.Background(), key, func(ctx context.Context) (*models.AutomationRecord, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("create must not run when an open record exists")
	}
	if res.Outcome != OutcomeExisting || res.Record.ID != "au-1" {
		t.Errorf("expected existing au-1, got %s %+v", res.Outcome, res.Record)
	}
}

func TestGuard_ConcurrentSameKindYieldsOneRecord(t *testing.T) {
	s := store.NewMemory()
	g := New(s)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	slow := func(ctx context.Context) (*models.AutomationRecord, error) {
		close(entered)
		<-proceed
		return persistingCreate(s, "au-1")(ctx)
	}

	var wg sync.WaitGroup
	var first Result
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = g.Run(context.Background(), key, slow)
	}()

	<-entered
	second, err := g.Run(context.Background(), key, persistingCreate(s, "au-2"))
	if !errors.Is(err, ErrInFlight) || second.Outcome != OutcomeInFlight {
		t.Errorf("expected in-flight rejection, got %s %v", second.Outcome, err)
	}
	close(proceed)
	wg.Wait()

	if firstErr != nil || first.Outcome != OutcomeCreated {
		t.Fatalf("expected first run to create, got %s %v", first.Outcome, firstErr)
	}
	list, _ := s.ListArtifacts(context.Background(), key.ConversationID)
	if len(list) != 1 {
		t.Errorf("expected exactly one record, got %d", len(list))
	}
}

func TestGuard_DifferentKindsDoNotBlock(t *testing.T) {
	s := store.NewMemory()
	g := New(s)

	other := Key{ConversationID: "conv-1", IntentKind: "send_email"}
	res, err := g.Run(context.Background(), key, func(ctx context.Context) (*models.AutomationRecord, error) {
		if g.Held(other) {
			t.Error("unexpected lock on other kind")
		}
		inner, err := g.Run(ctx, other, func(context.Context) (*models.AutomationRecord, error) { return nil, nil })
		if err != nil || inner.Outcome != OutcomeDeclined {
			t.Errorf("expected declined for other kind, got %s %v", inner.Outcome, err)
		}
		return nil, nil
	})
	if err != nil || res.Outcome != OutcomeDeclined {
		t.Errorf("expected declined, got %s %v", res.Outcome, err)
	}
}

func TestGuard_ReleasesOnError(t *testing.T) {
	g := New(store.NewMemory())
	boom := errors.New("refinement failed")

	_, err := g.Run(context.Background(), key, func(context.Context) (*models.AutomationRecord, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected refinement error, got %v", err)
	}
	if g.Held(key) {
		t.Error("expected lock released after error")
	}
}

func TestGuard_ReleasesOnPanic(t *testing.T) {
	g := New(store.NewMemory())

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_, _ = g.Run(context.Background(), key, func(context.Context) (*models.AutomationRecord, error) {
			panic("refiner crashed")
		})
	}()

	if g.Held(key) {
		t.Error("expected lock released after panic")
	}
}

type failingLookup struct{}

func (failingLookup) QueryOpenAutomation(context.Context, string, string) (*models.AutomationRecord, error) {
	return nil, errors.New("db down")
}

func TestGuard_LookupError(t *testing.T) {
	g := New(failingLookup{})
	_, err := g.Run(context.Background(), key, func(context.Context) (*models.AutomationRecord, error) {
		t.Error("create must not run when lookup fails")
		return nil, nil
	})
	if err == nil {
		t.Error("expected lookup error")
	}
	if g.Held(key) {
		t.Error("expected lock released after lookup error")
	}
}

func TestGuard_StoreConflictReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	g := New(s)

	// A second writer persists after the lookup and before create's own persist.
	res, err := g.Run(ctx, key, func(ctx context.Context) (*models.AutomationRecord, error) {
		if _, err := persistingCreate(s, "au-other")(ctx); err != nil {
			t.Fatalf("rival persist: %v", err)
		}
		return persistingCreate(s, "au-mine")(ctx)
	})
	if err != nil {
		t.Fatalf("expected conflict to resolve to the existing record, got %v", err)
	}
	if res.Outcome != OutcomeExisting {
		t.Errorf("expected OutcomeExisting, got %s", res.Outcome)
	}
	if res.Record == nil || res.Record.ID != "au-other" {
		t.Errorf("expected record au-other, got %+v", res.Record)
	}
}
