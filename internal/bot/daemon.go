package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/logging"
)

// DefaultQueueSize is the number of events a session may have waiting
// before further events for it are dropped.
const DefaultQueueSize = 64

// Handler processes one inbound event. Router implements it.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// Interrupter is implemented by handlers that need to see an event when it
// arrives, before it waits behind earlier events of its session. Router uses
// it to abort in-flight work on /cancel.
type Interrupter interface {
	Interrupt(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter and pumps inbound events to a Handler. Events for one session are
// handled in arrival order by a single worker; different sessions are
// handled concurrently.
type Daemon struct {
	adapter     Adapter
	handler     Handler
	interrupter Interrupter // nil when handler does not implement it
	queueSize   int
	log         zerolog.Logger
	out         io.Writer

	mu     sync.Mutex
	queues map[string]*sessionQueue
	wg     sync.WaitGroup
}

// sessionQueue holds the events waiting for one session's worker.
type sessionQueue struct {
	events []Event
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter   Adapter
	Handler   Handler
	QueueSize int // defaults to DefaultQueueSize
	Logger    *zerolog.Logger
	Out       io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("bot: handler is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str(logging.FieldComponent, "daemon").Logger()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	interrupter, _ := opts.Handler.(Interrupter)
	return &Daemon{
		adapter:     opts.Adapter,
		handler:     opts.Handler,
		interrupter: interrupter,
		queueSize:   size,
		log:         log,
		out:         out,
		queues:      make(map[string]*sessionQueue),
	}, nil
}

// Run connects the adapter and blocks until the context is cancelled or
// the adapter closes its event channel. On return every queued event has
// been handled and the adapter is closed.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "callsheet connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	fmt.Fprintf(d.out, "callsheet online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "callsheet shutting down...\n")
			d.wg.Wait()
			if err := d.adapter.Close(); err != nil {
				d.log.Warn().Err(err).Msg("close adapter")
			}
			fmt.Fprintf(d.out, "callsheet stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "callsheet inbound channel closed\n")
				d.wg.Wait()
				return nil
			}
			d.dispatch(ctx, ev)
		}
	}
}

// dispatch queues ev on its session's worker, starting one if needed. It
// never blocks: when the session already has queueSize events waiting, ev
// is dropped.
func (d *Daemon) dispatch(ctx context.Context, ev Event) {
	key := SessionKey(ev)

	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[key]
	if ok && len(q.events) >= d.queueSize {
		d.log.Warn().Str(logging.FieldSession, key).Str("kind", string(ev.Kind)).Msg("session queue full, event dropped")
		return
	}
	if d.interrupter != nil {
		d.interrupter.Interrupt(ev)
	}
	if !ok {
		q = &sessionQueue{}
		d.queues[key] = q
		d.wg.Add(1)
		go d.worker(ctx, key, q)
	}
	q.events = append(q.events, ev)
}

// worker drains one session's queue and exits once it is empty.
func (d *Daemon) worker(ctx context.Context, key string, q *sessionQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.events) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events[0] = Event{}
		q.events = q.events[1:]
		d.mu.Unlock()

		d.handle(ctx, ev)
	}
}

func (d *Daemon) handle(ctx context.Context, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Interface("panic", rec).Str(logging.FieldSession, SessionKey(ev)).Msg("handler panic")
		}
	}()
	d.handler.Handle(ctx, ev)
}

// ActiveWorkers returns the number of sessions with a running worker.
func (d *Daemon) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
