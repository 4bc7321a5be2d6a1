package notification

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 256
	deliveryTimeout  = 10 * time.Second
)

type eventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type changeMailer interface {
	Send(ctx context.Context, change reconcile.Change) error
}

type job struct {
	ctx    context.Context
	change reconcile.Change
}

// Dispatcher is the engine's Notifier. The live feed is updated inline; Kafka
// and email deliveries run on a background worker and are dropped with a
// warning when the queue is full.
type Dispatcher struct {
	log       *zap.Logger
	hub       *Hub
	publisher eventPublisher
	mailer    changeMailer

	queue   chan job
	done    chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
}

func NewDispatcher(log *zap.Logger, hub *Hub, publisher eventPublisher, mailer changeMailer) *Dispatcher {
	return &Dispatcher{
		log:       log.Named("notification.dispatcher"),
		hub:       hub,
		publisher: publisher,
		mailer:    mailer,
		queue:     make(chan job, defaultQueueSize),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, change reconcile.Change) {
	d.hub.Publish(EventFromChange(change))
	if d.publisher == nil && d.mailer == nil {
		return
	}
	select {
	case d.queue <- job{ctx: ctx, change: change}:
	default:
		logger.WithContext(ctx, d.log).Warn("notification queue full, dropping change",
			zap.String("kind", string(change.Kind)))
	}
}

func (d *Dispatcher) Start() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.run(d.done)
}

// Stop drains the queue and waits for the worker.
func (d *Dispatcher) Stop() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if !d.started {
		return
	}
	d.started = false
	close(d.done)
	d.wg.Wait()
}

func (d *Dispatcher) run(done <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		case <-done:
			for {
				select {
				case j := <-d.queue:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, deliveryTimeout)
	defer cancel()
	log := logger.WithContext(ctx, d.log)

	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, EventFromChange(j.change)); err != nil {
			log.Warn("publish change failed", zap.String("kind", string(j.change.Kind)), zap.Error(err))
		}
	}
	if d.mailer != nil {
		if err := d.mailer.Send(ctx, j.change); err != nil {
			log.Warn("notification email failed", zap.String("kind", string(j.change.Kind)), zap.Error(err))
		}
	}
}
