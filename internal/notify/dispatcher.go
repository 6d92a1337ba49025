package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"accountd/internal/domain"
	"accountd/internal/observability/metrics"
	"accountd/internal/observability/middleware"

	"go.uber.org/zap"
)

// Transport delivers one rendered message.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

type Config struct {
	Workers      int
	QueueSize    int
	SendTimeout  time.Duration // per attempt
	Retries      int           // extra attempts after the first
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    256,
		SendTimeout:  10 * time.Second,
		Retries:      2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

type job struct {
	ctx context.Context
	msg Message
}

// Dispatcher renders synchronously and delivers on a bounded worker pool.
// Send never waits on the transport.
type Dispatcher struct {
	cfg       Config
	renderer  Renderer
	transport Transport
	log       *zap.Logger
	now       func() time.Time
	onFailure func(ctx context.Context, m Message, err error)

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config, renderer Renderer, transport Transport, log *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:       cfg,
		renderer:  renderer,
		transport: transport,
		log:       log.With(zap.String("transport", transport.Name())),
		now:       func() time.Time { return time.Now().UTC() },
		jobs:      make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// OnFailure registers a hook run after the last delivery attempt fails.
// Must be set before the first Send.
func (d *Dispatcher) OnFailure(fn func(ctx context.Context, m Message, err error)) {
	d.onFailure = fn
}

func (d *Dispatcher) Send(ctx context.Context, template string, data map[string]any, recipient string) error {
	subject, body, err := d.renderer.Render(template, data)
	if err != nil {
		metrics.EmailsTotal.WithLabelValues(template, "render_failed").Inc()
		return err
	}
	metrics.EmailsTotal.WithLabelValues(template, "rendered").Inc()

	m := Message{
		Template:  template,
		Recipient: recipient,
		Subject:   subject,
		HTMLBody:  body,
		QueuedAt:  d.now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EmailsTotal.WithLabelValues(template, "dropped").Inc()
		return fmt.Errorf("%w: dispatcher closed", domain.ErrTransportFailure)
	}
	select {
	case d.jobs <- job{ctx: context.WithoutCancel(ctx), msg: m}:
		return nil
	default:
		metrics.EmailsTotal.WithLabelValues(template, "dropped").Inc()
		return fmt.Errorf("%w: queue full", domain.ErrTransportFailure)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	fields := append(middleware.Fields(j.ctx), zap.String("template", j.msg.Template))

	var err error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 && d.cfg.RetryBackoff > 0 {
			time.Sleep(time.Duration(attempt) * d.cfg.RetryBackoff)
		}
		actx, cancel := context.WithTimeout(j.ctx, d.cfg.SendTimeout)
		err = d.transport.Deliver(actx, j.msg)
		cancel()
		if err == nil {
			metrics.EmailsTotal.WithLabelValues(j.msg.Template, "delivered").Inc()
			d.log.Debug("email delivered", append(fields, zap.Int("attempt", attempt+1))...)
			return
		}
		d.log.Warn("email delivery attempt failed", append(fields, zap.Int("attempt", attempt+1), zap.Error(err))...)
	}

	metrics.EmailsTotal.WithLabelValues(j.msg.Template, "failed").Inc()
	d.log.Error("email delivery gave up", append(fields, zap.Error(err))...)
	if d.onFailure != nil {
		if !errors.Is(err, domain.ErrTransportFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
		}
		d.onFailure(j.ctx, j.msg, err)
	}
}
