// internal/membership/reconcile/poller.go
package reconcile

import (
	"context"
	"time"
)

// PollOutcome is the terminal state of one confirmation poll loop.
type PollOutcome string

const (
	// PollConfirmed means the check reported the expected on-chain state.
	PollConfirmed PollOutcome = "confirmed"
	// PollPending means the attempt budget ran out without confirmation.
	// Not a failure: the UI stays in "pending confirmation".
	PollPending PollOutcome = "pending"
	// PollSuperseded means a newer poll for the same entity started; this
	// loop exited silently.
	PollSuperseded PollOutcome = "superseded"
)

// Poller runs bounded-backoff confirmation loops after a transaction is
// submitted. Each loop is keyed by a monotonically increasing poll id per
// entity: starting a new loop for the same entity invalidates the old one,
// which checks its id on every iteration and exits without touching state.
type Poller struct {
	session *Session
	ids     map[string]uint64

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewPoller(session *Session) *Poller {
	return &Poller{
		session:        session,
		ids:            make(map[string]uint64),
		maxAttempts:    8,
		initialBackoff: 2 * time.Second,
		maxBackoff:     30 * time.Second,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run polls check until it reports true, the attempt budget is exhausted,
// or a newer poll supersedes this one. Run blocks; callers wanting a
// background loop run it in a goroutine. The session mutex guards the id
// map since polls race with new user actions.
func (p *Poller) Run(ctx context.Context, entity string, check func(ctx context.Context) (bool, error)) (PollOutcome, error) {
	id := p.nextID(entity)

	backoff := p.initialBackoff
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if p.currentID(entity) != id {
			return PollSuperseded, nil
		}

		done, err := check(ctx)
		if err == nil && done {
			if p.currentID(entity) != id {
				return PollSuperseded, nil
			}
			return PollConfirmed, nil
		}
		// Errors are treated like "not yet": absence of confirmation inside
		// the window is not a failure.

		if err := p.sleep(ctx, backoff); err != nil {
			return PollPending, err
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
	return PollPending, nil
}

func (p *Poller) nextID(entity string) uint64 {
	p.session.mu.Lock()
	defer p.session.mu.Unlock()
	p.ids[entity]++
	return p.ids[entity]
}

func (p *Poller) currentID(entity string) uint64 {
	p.session.mu.Lock()
	defer p.session.mu.Unlock()
	return p.ids[entity]
}
