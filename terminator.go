package authgate

import (
	"context"
	"time"

	"github.com/MrEthical07/authgate/credential"
	"github.com/sirupsen/logrus"
)

// Termination tells the host that the session has ended and the user must sign in again.
type Termination struct {
	// Reason is a short label: "refresh_failed" or "logout".
	Reason string
	// LoginURL is Config.Session.LoginURL.
	LoginURL string
	At       time.Time
}

// TerminationHandler is called once per ended session, typically to navigate to the
// login page. It runs on the goroutine that ended the session and must not block.
type TerminationHandler func(ctx context.Context, t Termination)

// Termination reasons.
const (
	TerminationRefreshFailed = "refresh_failed"
	TerminationLogout        = "logout"
)

// Terminator ends the current session: it clears the credential store and, if a
// session existed, notifies the host. It never panics and never returns an error.
type Terminator struct {
	store    *credential.Store
	handler  TerminationHandler
	loginURL string
	metrics  *Metrics
	log      *logrus.Entry
	now      func() time.Time
}

func newTerminator(store *credential.Store, handler TerminationHandler, loginURL string, metrics *Metrics, log *logrus.Entry) *Terminator {
	return &Terminator{
		store:    store,
		handler:  handler,
		loginURL: loginURL,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// Terminate clears the session and reports whether one existed. When the store was
// already empty nothing else happens, so repeated calls notify the host at most once.
func (t *Terminator) Terminate(ctx context.Context, reason string) bool {
	existed, err := t.store.Clear(ctx)
	if err != nil {
		// Memory is already cleared; the backend keeps a stale record until the next
		// write or restore.
		t.log.WithError(err).WithField("reason", reason).Warn("authgate: session clear failed")
	}
	if !existed {
		return false
	}

	t.metrics.Inc(MetricSessionTerminated)
	t.log.WithField("reason", reason).Info("authgate: session terminated")
	t.notify(ctx, Termination{Reason: reason, LoginURL: t.loginURL, At: t.now().UTC()})
	return true
}

func (t *Terminator) notify(ctx context.Context, term Termination) {
	if t.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.WithField("panic", r).Error("authgate: termination handler panicked")
		}
	}()
	t.handler(ctx, term)
}
