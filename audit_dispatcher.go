package authgate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// dropWarnEvery controls how often a full buffer is reported: on the first drop and
// then once per this many drops.
const dropWarnEvery = 1000

// auditDispatcher hands events to the sink on one background goroutine so that
// refresh episodes and logins never wait on a slow sink.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool
	log        logrus.FieldLogger

	queue   chan AuditEvent
	stop    chan struct{}
	stopped sync.WaitGroup

	dropped   atomic.Uint64
	closing   atomic.Bool
	closeOnce sync.Once
}

// newAuditDispatcher returns nil when auditing is off; a nil dispatcher accepts and
// discards everything.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink, log logrus.FieldLogger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		log:        log,
		queue:      make(chan AuditEvent, size),
		stop:       make(chan struct{}),
	}
	d.stopped.Add(1)
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer d.stopped.Done()

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes whatever is still buffered at Close.
func (d *auditDispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *auditDispatcher) deliver(ev AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"event_type": ev.EventType,
				"panic":      r,
			}).Error("authgate: audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. With DropIfFull a full buffer drops the event and counts it;
// otherwise Emit blocks until there is room or ctx ends.
func (d *auditDispatcher) Emit(ctx context.Context, ev AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.recordDrop(ev)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stop:
	}
}

func (d *auditDispatcher) recordDrop(ev AuditEvent) {
	n := d.dropped.Add(1)
	if n == 1 || n%dropWarnEvery == 0 {
		d.log.WithFields(logrus.Fields{
			"event_type": ev.EventType,
			"dropped":    n,
		}).Warn("authgate: audit buffer full, dropping events")
	}
}

// Close delivers queued events and stops the goroutine. Safe to call twice.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.stopped.Wait()
	})
}

// Dropped reports how many events were discarded because the buffer was full.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
