package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"signalExecBot/internal/domain"
	"signalExecBot/internal/ports"
)

// Executor runs one signal to completion.
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) (*domain.ExecutionResult, error)
	// Abandon records a terminal skip for a signal that will never be executed.
	Abandon(ctx context.Context, sig domain.Signal, reason string) *domain.ExecutionResult
}

// ReasonShutdown is recorded for signals still queued when the dispatcher's context ends.
const ReasonShutdown = "shutdown"

// DefaultQueueSize is the per-symbol buffer used when none is configured.
const DefaultQueueSize = 16

// Dispatcher fans signals out to one worker per symbol. Signals for a symbol are executed in
// arrival order; different symbols run concurrently.
type Dispatcher struct {
	ctx       context.Context
	exec      Executor
	logger    ports.Logger
	queueSize int

	mu     sync.Mutex
	queues map[string]chan domain.Signal

	sendMu sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher whose workers stop when ctx is done or Close is called.
func NewDispatcher(ctx context.Context, exec Executor, logger ports.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		ctx:       ctx,
		exec:      exec,
		logger:    logger,
		queueSize: queueSize,
		queues:    make(map[string]chan domain.Signal),
	}
}

// Dispatch queues sig behind earlier signals for the same symbol.
// It blocks while the symbol's queue is full.
func (d *Dispatcher) Dispatch(sig domain.Signal) error {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed {
		return fmt.Errorf("dispatch %s: dispatcher closed", sig.Symbol)
	}
	q := d.queue(strings.ToUpper(sig.Symbol))
	select {
	case q <- sig:
		return nil
	case <-d.ctx.Done():
		return fmt.Errorf("dispatch %s: %w: %w", sig.Symbol, ports.ErrContextCanceled, d.ctx.Err())
	}
}

func (d *Dispatcher) queue(symbol string) chan domain.Signal {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[symbol]
	if !ok {
		q = make(chan domain.Signal, d.queueSize)
		d.queues[symbol] = q
		d.wg.Add(1)
		go d.worker(symbol, q)
	}
	return q
}

func (d *Dispatcher) worker(symbol string, q <-chan domain.Signal) {
	defer d.wg.Done()
	for {
		select {
		case sig, ok := <-q:
			if !ok {
				return
			}
			if d.ctx.Err() != nil {
				d.abandon(symbol, sig)
				continue
			}
			res, err := d.exec.Execute(d.ctx, sig)
			if err != nil {
				fields := map[string]interface{}{"symbol": symbol}
				if res != nil {
					fields["outcome"] = res.Outcome
				}
				d.logger.Warn(d.ctx, "Dispatcher: Execution ended with error", fields)
			}
		case <-d.ctx.Done():
			// Every queued signal still gets an outcome; Close ends the range.
			for sig := range q {
				d.abandon(symbol, sig)
			}
			return
		}
	}
}

func (d *Dispatcher) abandon(symbol string, sig domain.Signal) {
	d.exec.Abandon(context.WithoutCancel(d.ctx), sig, ReasonShutdown)
	d.logger.Warn(d.ctx, "Dispatcher: Queued signal abandoned at shutdown", map[string]interface{}{"symbol": symbol})
}

// Close stops accepting signals and waits for the workers. Signals queued before Close are
// executed, or recorded as skipped with ReasonShutdown once the dispatcher's context is done.
// Close must be called for workers to exit.
func (d *Dispatcher) Close() {
	d.sendMu.Lock()
	if d.closed {
		d.sendMu.Unlock()
		return
	}
	d.closed = true
	d.sendMu.Unlock()

	d.mu.Lock()
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
