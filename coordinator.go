package authgate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// pendingCaller is one request waiting on a refresh episode. done is completed exactly
// once by the coordinator: nil means replay, non-nil means reject.
type pendingCaller struct {
	requestID string
	done      chan error
}

// refreshCoordinator is the single-flight engine. It owns the refresh state and the
// wait queue; nothing else reads or writes them.
//
// The Idle→Refreshing check-and-set and the enqueue happen under mu with no I/O or
// channel operation in between, so two callers can never both start a refresh.
type refreshCoordinator struct {
	mu      sync.Mutex
	state   RefreshState
	queue   []*pendingCaller
	closing bool

	refresh      func(ctx context.Context) error
	terminate    func(ctx context.Context, cause error)
	currentToken func() string

	timeout   time.Duration
	maxQueued int
	metrics   *Metrics
	log       *logrus.Entry

	episodes atomic.Uint64
	running  sync.WaitGroup
}

type coordinatorDeps struct {
	Refresh      func(ctx context.Context) error
	Terminate    func(ctx context.Context, cause error)
	CurrentToken func() string
	Timeout      time.Duration
	MaxQueued    int
	Metrics      *Metrics
	Log          *logrus.Entry
}

func newRefreshCoordinator(deps coordinatorDeps) *refreshCoordinator {
	return &refreshCoordinator{
		state:        RefreshIdle,
		refresh:      deps.Refresh,
		terminate:    deps.Terminate,
		currentToken: deps.CurrentToken,
		timeout:      deps.Timeout,
		maxQueued:    deps.MaxQueued,
		metrics:      deps.Metrics,
		log:          deps.Log,
	}
}

// await joins the current refresh episode, starting one if none is running, and blocks
// until it resolves. A nil return means the caller should replay its request once;
// any error is final for that request.
//
// sentWith is the access token the failed request carried. If the store already holds
// a different token and no episode is running, an episode finished between the send
// and the 401, so the caller replays without a new refresh.
func (c *refreshCoordinator) await(ctx context.Context, requestID, sentWith string) error {
	p := &pendingCaller{requestID: requestID, done: make(chan error, 1)}

	c.mu.Lock()
	if c.state == RefreshIdle {
		if current := c.currentToken(); current != "" && current != sentWith {
			c.mu.Unlock()
			c.metrics.Inc(MetricStaleTokenReplay)
			return nil
		}
	}
	if c.maxQueued > 0 && len(c.queue) >= c.maxQueued {
		c.mu.Unlock()
		c.metrics.Inc(MetricQueueRejected)
		return ErrRefreshQueueFull
	}
	leader := c.state == RefreshIdle
	if leader && c.closing {
		c.mu.Unlock()
		return ErrGatewayClosed
	}
	c.queue = append(c.queue, p)
	if leader {
		c.state = RefreshRefreshing
		c.running.Add(1)
	}
	c.mu.Unlock()

	if leader {
		episode := c.episodes.Add(1)
		// The episode outlives the first caller: its cancellation must not fail everyone
		// queued behind it.
		go c.run(context.WithoutCancel(ctx), episode)
	} else {
		c.metrics.Inc(MetricRefreshJoined)
	}

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		c.abandon(p)
		return ctx.Err()
	}
}

// abandon drops p from the queue so it no longer counts against maxQueued. If the
// episode already took the queue, p's buffered slot absorbs the completion.
func (c *refreshCoordinator) abandon(p *pendingCaller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

func (c *refreshCoordinator) run(ctx context.Context, episode uint64) {
	defer c.running.Done()

	start := time.Now()
	log := c.log.WithField("episode", episode)
	log.Debug("authgate: refresh episode started")

	err := c.callRefresh(ctx)
	if err != nil {
		c.terminate(ctx, err)
	}

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.state = RefreshIdle
	c.mu.Unlock()

	var outcome error
	if err != nil {
		outcome = sessionExpired(err)
	}
	for _, p := range queue {
		p.done <- outcome
	}

	fields := logrus.Fields{
		"released": len(queue),
		"elapsed":  time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("authgate: refresh episode failed")
		return
	}
	log.WithFields(fields).Debug("authgate: refresh episode succeeded")
}

func (c *refreshCoordinator) callRefresh(ctx context.Context) (err error) {
	refreshCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &RefreshError{Reason: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()
	return c.refresh(refreshCtx)
}

func (c *refreshCoordinator) snapshot() (RefreshState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, len(c.queue)
}

func (c *refreshCoordinator) episodeCount() uint64 {
	return c.episodes.Load()
}

// wait stops new episodes from starting and blocks until the running one, if any,
// has released its queue.
func (c *refreshCoordinator) wait() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.running.Wait()
}
