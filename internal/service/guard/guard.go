// Package guard ensures at most one non-terminal automation per
// (conversation, intent kind).
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ai-voice-command-service/internal/models"
	"ai-voice-command-service/internal/store"
)

// ErrInFlight is returned when another automation for the same key is
// being created right now. Callers treat it as a no-op.
var ErrInFlight = errors.New("guard: automation already in flight")

// Lookup is the durable existence check, usually the artifact store.
type Lookup interface {
	QueryOpenAutomation(ctx context.Context, conversationID, intentKind string) (*models.AutomationRecord, error)
}

// Key identifies the guarded slot.
type Key struct {
	ConversationID string
	IntentKind     string
}

// Outcome describes what Run did.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeExisting
	OutcomeInFlight
	OutcomeDeclined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeExisting:
		return "existing"
	case OutcomeInFlight:
		return "in_flight"
	case OutcomeDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Result is the outcome of a guarded creation.
type Result struct {
	Outcome Outcome
	Record  *models.AutomationRecord
}

// CreateFunc refines and persists a new record. Returning (nil, nil)
// declines creation without error (no result, gate rejection).
type CreateFunc func(ctx context.Context) (*models.AutomationRecord, error)

// Guard combines an in-process advisory lock with the durable lookup.
type Guard struct {
	lookup Lookup

	mu   sync.Mutex
	held map[Key]struct{}
}

// New creates a guard over the given lookup.
func New(lookup Lookup) *Guard {
	return &Guard{
		lookup: lookup,
		held:   make(map[Key]struct{}),
	}
}

// Run executes create only if no lock is held for key and no open record
// exists. The lock is released on every exit path, panics included. When
// create loses the store's uniqueness check to another writer, Run returns
// that writer's record as OutcomeExisting.
func (g *Guard) Run(ctx context.Context, key Key, create CreateFunc) (Result, error) {
	if !g.acquire(key) {
		return Result{Outcome: OutcomeInFlight}, ErrInFlight
	}
	defer g.release(key)

	existing, err := g.lookup.QueryOpenAutomation(ctx, key.ConversationID, key.IntentKind)
	if err != nil {
		return Result{}, fmt.Errorf("query open automation: %w", err)
	}
	if existing != nil {
		return Result{Outcome: OutcomeExisting, Record: existing}, nil
	}

	rec, err := create(ctx)
	if errors.Is(err, store.ErrOpenAutomationExists) {
		// Another process won the durable slot between lookup and persist.
		existing, qerr := g.lookup.QueryOpenAutomation(ctx, key.ConversationID, key.IntentKind)
		if qerr == nil && existing != nil {
			return Result{Outcome: OutcomeExisting, Record: existing}, nil
		}
	}
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return Result{Outcome: OutcomeDeclined}, nil
	}
	return Result{Outcome: OutcomeCreated, Record: rec}, nil
}

// Held reports whether the lock for key is currently held.
func (g *Guard) Held(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

func (g *Guard) acquire(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return false
	}
	g.held[key] = struct{}{}
	return true
}

func (g *Guard) release(key Key) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}
