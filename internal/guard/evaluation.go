package guard

import (
	"context"
	"sync"
)

// Evaluation is an evaluation in progress. Its decision reads PENDING until
// it resolves; views render nothing protected until then.
type Evaluation struct {
	mu       sync.Mutex
	decision Decision
	err      error
	done     chan struct{}
	cancel   context.CancelFunc
}

// Start evaluates req in the background.
func (g *Guard) Start(ctx context.Context, req Requirement) *Evaluation {
	cctx, cancel := context.WithCancel(ctx)
	e := &Evaluation{
		decision: Decision{Outcome: Pending},
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		defer close(e.done)
		defer cancel()

		decision, err := g.Evaluate(cctx, req)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.err = err
			return
		}
		e.decision = decision
	}()
	return e
}

func (e *Evaluation) Decision() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decision
}

func (e *Evaluation) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the evaluation resolves or is cancelled.
func (e *Evaluation) Wait() (Decision, error) {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decision, e.err
}

// Cancel abandons the evaluation. A cancelled evaluation stays PENDING and
// performs no side effects it has not already begun.
func (e *Evaluation) Cancel() {
	e.cancel()
}
