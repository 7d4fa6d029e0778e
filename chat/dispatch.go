package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/daybreakhq/ensemble/config"
	"github.com/daybreakhq/ensemble/room"
	"github.com/daybreakhq/ensemble/telemetry"
)

// Dispatcher routes burst triggers to per-room workers. One orchestrator is
// lazily created and cached per room id and reused across triggers, so
// burst-rate and cooldown state persists. Each worker consumes a single-slot
// mailbox, which makes "one burst in flight per room" structural: a trigger
// arriving while a burst runs parks in the slot, and further triggers are
// dropped (they would have been rate-limited anyway).
type Dispatcher struct {
	reg      *room.Registry
	policy   config.AutoChatPolicy
	gen      LineGenerator
	analyzer ContextAnalyzer

	genTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*roomWorker
	stopped bool
}

type roomWorker struct {
	orch    *Orchestrator
	mailbox chan Trigger
	// draining is set by Forget; the worker stays registered until its
	// goroutine exits so a replacement cannot overlap an in-flight burst.
	draining bool
}

// NewDispatcher constructs a dispatcher whose workers stop when ctx is
// canceled (or Stop is called).
func NewDispatcher(ctx context.Context, reg *room.Registry, policy config.AutoChatPolicy, gen LineGenerator, analyzer ContextAnalyzer) *Dispatcher {
	dctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		reg:        reg,
		policy:     policy,
		gen:        gen,
		analyzer:   analyzer,
		genTimeout: 20 * time.Second,
		ctx:        dctx,
		cancel:     cancel,
		workers:    make(map[string]*roomWorker),
	}
}

// SetGenTimeout sets the generation timeout applied to orchestrators created
// after the call.
func (d *Dispatcher) SetGenTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.genTimeout = timeout
	d.mu.Unlock()
}

// Trigger enqueues a burst for the room and reports whether it was accepted.
// Non-blocking: when the room's mailbox already holds a pending trigger the
// new one is dropped.
func (d *Dispatcher) Trigger(roomID string, trigger Trigger) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.ctx.Err() != nil {
		return false
	}
	w, ok := d.workers[roomID]
	if ok && w.draining {
		telemetry.TriggersDropped.Inc()
		slog.Debug("burst trigger dropped: worker draining",
			slog.String("room_id", roomID), slog.String("trigger", string(trigger)), slog.String("component", "dispatcher"))
		return false
	}
	if !ok {
		w = &roomWorker{
			orch:    d.newOrchestrator(roomID),
			mailbox: make(chan Trigger, 1),
		}
		d.workers[roomID] = w
		d.wg.Add(1)
		go d.run(roomID, w)
	}
	select {
	case w.mailbox <- trigger:
		return true
	default:
		telemetry.TriggersDropped.Inc()
		slog.Debug("burst trigger dropped: burst already queued",
			slog.String("room_id", roomID), slog.String("trigger", string(trigger)), slog.String("component", "dispatcher"))
		return false
	}
}

func (d *Dispatcher) newOrchestrator(roomID string) *Orchestrator {
	o := NewOrchestrator(roomID, d.reg, d.policy, d.gen, d.analyzer)
	o.SetGenTimeout(d.genTimeout)
	return o
}

func (d *Dispatcher) run(roomID string, w *roomWorker) {
	defer d.wg.Done()
	defer d.deregister(roomID, w)
	for {
		select {
		case <-d.ctx.Done():
			return
		case trig, ok := <-w.mailbox:
			if !ok {
				return
			}
			w.orch.RunBurst(d.ctx, trig)
		}
	}
}

// deregister removes the worker once its goroutine has exited, so the room id
// only frees up after any in-flight burst has finished.
func (d *Dispatcher) deregister(roomID string, w *roomWorker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workers[roomID] == w {
		delete(d.workers, roomID)
	}
}

// Forget marks the worker and cached orchestrator for a removed room as
// draining. The worker finishes its in-flight burst, if any, before the room
// id is released; triggers arriving in the meantime are dropped.
func (d *Dispatcher) Forget(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[roomID]
	if !ok || w.draining {
		return
	}
	w.draining = true
	close(w.mailbox)
}

// Stop cancels all workers and waits for in-flight bursts to wind down.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
