package trigger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tunet/internal/session"
)

// Session is the part of *session.Session the runner drives
type Session interface {
	LogOn(ctx context.Context, opts session.LogOnOptions) error
	Refresh(ctx context.Context) (session.ReconcileResult, error)
	SaveCache(ctx context.Context) error
}

// Outcome describes one completed run
type Outcome struct {
	Change     Change
	Action     Action
	LogOnErr   error
	RefreshErr error
	Result     session.ReconcileResult
}

// OK reports whether the run reached the portal successfully
func (o Outcome) OK() bool {
	return o.Action != ActionSkip && o.LogOnErr == nil && o.RefreshErr == nil
}

// Runner serializes and rate limits work triggered by changes
type Runner struct {
	session Session
	limiter *rate.Limiter
	pending chan Change

	mu        sync.RWMutex
	policy    Policy
	onOutcome func(Outcome)
	onFirstOK func(Outcome)
	firstDone bool
	last      *Outcome

	wg sync.WaitGroup
}

// NewRunner creates a runner allowing one run per minInterval
func NewRunner(s Session, policy Policy, minInterval time.Duration) *Runner {
	return &Runner{
		session: s,
		limiter: rate.NewLimiter(limitFor(minInterval), 1),
		pending: make(chan Change, 1),
		policy:  policy,
	}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// SetPolicy replaces the policy for subsequent runs
func (r *Runner) SetPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// SetMinInterval changes the rate limit for subsequent runs
func (r *Runner) SetMinInterval(interval time.Duration) {
	r.limiter.SetLimit(limitFor(interval))
}

// OnOutcome registers a callback invoked after every run
func (r *Runner) OnOutcome(fn func(Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOutcome = fn
}

// OnFirstSuccess registers a callback invoked once, after the first run
// whose logon succeeded
func (r *Runner) OnFirstSuccess(fn func(Outcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFirstOK = fn
}

// Last returns the most recent outcome
func (r *Runner) Last() (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Outcome{}, false
	}
	return *r.last, true
}

// Notify queues a change. A change arriving while one is already queued
// replaces it; manual changes are never replaced by automatic ones.
func (r *Runner) Notify(c Change) {
	if c.At.IsZero() {
		c.At = time.Now()
	}
	for {
		select {
		case r.pending <- c:
			return
		default:
		}
		select {
		case queued := <-r.pending:
			if queued.Kind == ChangeManual && c.Kind != ChangeManual {
				c = queued
			}
		default:
		}
	}
}

// Start runs the sources and the work loop until ctx is done
func (r *Runner) Start(ctx context.Context, sources ...Source) {
	for _, src := range sources {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			log.Printf("Started trigger source %s", src.Name())
			if err := src.Run(ctx, r.Notify); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Trigger source %s stopped: %v", src.Name(), err)
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				log.Printf("Stopping trigger runner")
				return
			case c := <-r.pending:
				if err := r.limiter.Wait(ctx); err != nil {
					return
				}
				r.Run(ctx, c)
			}
		}
	}()
}

// Wait blocks until every goroutine started by Start has returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Run performs the action for c immediately, bypassing the queue and the
// rate limit
func (r *Runner) Run(ctx context.Context, c Change) Outcome {
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()

	out := Outcome{Change: c, Action: policy.Decide(c)}
	switch out.Action {
	case ActionSkip:
		log.Printf("Skipping %s change on metered interface %s", c.Kind, c.Interface)
		r.finish(out)
		return out
	case ActionLogOn:
		out.LogOnErr = r.session.LogOn(ctx, session.LogOnOptions{CheckLink: policy.CheckLink})
		if out.LogOnErr != nil {
			log.Printf("Failed to log on after %s change: %v", c.Kind, out.LogOnErr)
		}
	}

	if ctx.Err() != nil {
		out.RefreshErr = ctx.Err()
		r.finish(out)
		return out
	}

	out.Result, out.RefreshErr = r.session.Refresh(ctx)
	if out.RefreshErr != nil {
		log.Printf("Failed to refresh after %s change: %v", c.Kind, out.RefreshErr)
	} else if err := r.session.SaveCache(ctx); err != nil {
		log.Printf("Failed to save cache: %v", err)
	}

	r.finish(out)
	return out
}

func (r *Runner) finish(out Outcome) {
	r.mu.Lock()
	r.last = &out
	onOutcome := r.onOutcome
	var onFirst func(Outcome)
	if !r.firstDone && out.Action == ActionLogOn && out.LogOnErr == nil {
		r.firstDone = true
		onFirst = r.onFirstOK
	}
	r.mu.Unlock()

	if onFirst != nil {
		onFirst(out)
	}
	if onOutcome != nil {
		onOutcome(out)
	}
}
