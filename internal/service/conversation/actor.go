package conversation

import (
	"context"
	"time"

	"ai-voice-command-service/internal/service/capture"
	"ai-voice-command-service/internal/service/command"
	"ai-voice-command-service/internal/service/delta"
)

// state is everything the engine keeps for one conversation. Only the
// owning actor goroutine touches it.
type state struct {
	id      string
	cursor  delta.Cursor
	session *capture.Session
	framer  *command.Framer
}

// actor serializes all access to one conversation's state.
type actor struct {
	id    string
	inbox chan func(*state)
	quit  chan struct{}
	done  chan struct{}

	// guarded by Engine.mu
	pending  int
	lastUsed time.Time
}

func newActor(id string, inboxSize int, now time.Time) *actor {
	return &actor{
		id:       id,
		inbox:    make(chan func(*state), inboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		lastUsed: now,
	}
}

// run handles messages in arrival order until quit, then drains what is
// already queued.
func (a *actor) run(st *state) {
	defer close(a.done)
	for {
		select {
		case fn := <-a.inbox:
			fn(st)
		case <-a.quit:
			for {
				select {
				case fn := <-a.inbox:
					fn(st)
				default:
					return
				}
			}
		}
	}
}

// call runs fn on the actor and waits for it to finish. ctx only bounds
// the wait for inbox space: once queued, fn will run, so call waits for it
// and the caller always learns what was committed.
func (a *actor) call(ctx context.Context, fn func(*state)) error {
	finished := make(chan struct{})
	msg := func(st *state) {
		defer close(finished)
		fn(st)
	}

	select {
	case a.inbox <- msg:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-a.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}
