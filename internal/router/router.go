// ABOUTME: Form update router that maps watched forms to streaming connections
// ABOUTME: Debounces update bursts, dispatches change events, and reaps idle watchers

package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/formbridge/internal/change"
)

// Event kinds dispatched to watching connections.
const (
	EventFormUpdate  = "form-update"
	EventFormDeleted = "form-deleted"
)

// StreamSender is the slice of the connection registry the router needs:
// queue an event, probe liveness, force a stream closed.
type StreamSender interface {
	Send(id, event string, payload any) bool
	Has(id string) bool
	Remove(id string)
}

// ChangeRecorder persists accepted change notifications. Implemented by the
// sqlite ledger; a nil recorder disables persistence.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, evt change.Event) error
}

// Options carries the router's timing knobs. Zero values fall back to the
// defaults (500ms debounce, 5m idle timeout, 1m sweep).
type Options struct {
	DebounceInterval time.Duration
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
}

// updatePayload is the JSON body of a form-update event.
type updatePayload struct {
	FormID     string    `json:"formId"`
	Timestamp  time.Time `json:"timestamp"`
	ChangeType string    `json:"changeType"`
	Data       any       `json:"data,omitempty"`
}

// deletedPayload is the JSON body of a form-deleted event.
type deletedPayload struct {
	FormID    string    `json:"formId"`
	Timestamp time.Time `json:"timestamp"`
}

// Router owns the form-to-connection watch state and delivers change
// notifications with coalescing.
//
// Three indices are kept consistent under one lock: the forward index
// (form id to watcher set), the reverse index (connection id to the single
// form it watches), and the activity index used for idle eviction.
type Router struct {
	mu       sync.Mutex
	watchers map[string]map[string]struct{}
	forms    map[string]string
	activity map[string]time.Time
	timers   map[string]*time.Timer
	closed   bool

	streams  StreamSender
	recorder ChangeRecorder
	logger   *slog.Logger

	debounce      time.Duration
	idleTimeout   time.Duration
	sweepInterval time.Duration

	done chan struct{}
}

// New creates a Router and starts its idle sweep. recorder may be nil.
func New(streams StreamSender, recorder ChangeRecorder, opts Options, logger *slog.Logger) *Router {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 500 * time.Millisecond
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	r := &Router{
		watchers:      make(map[string]map[string]struct{}),
		forms:         make(map[string]string),
		activity:      make(map[string]time.Time),
		timers:        make(map[string]*time.Timer),
		streams:       streams,
		recorder:      recorder,
		logger:        logger.With("component", "router"),
		debounce:      opts.DebounceInterval,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		done:          make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// RegisterPreviewConnection makes connID watch formID. A connection watches
// at most one form: registering for a different form unregisters the old
// watch first, and re-registering for the same form only refreshes activity.
func (r *Router) RegisterPreviewConnection(connID, formID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if current, ok := r.forms[connID]; ok {
		if current == formID {
			r.activity[connID] = time.Now()
			return
		}
		r.unregisterLocked(connID)
	}

	set, ok := r.watchers[formID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[formID] = set
	}
	set[connID] = struct{}{}
	r.forms[connID] = formID
	r.activity[connID] = time.Now()

	r.logger.Debug("preview connection registered",
		"connection_id", connID,
		"form_id", formID,
		"watchers", len(set),
	)
}

// UnregisterPreviewConnection removes connID's watch. No-op if unknown.
func (r *Router) UnregisterPreviewConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(connID)
}

// unregisterLocked removes connID from all three indices. An emptied
// watcher set is deleted rather than left dangling.
func (r *Router) unregisterLocked(connID string) {
	formID, ok := r.forms[connID]
	if !ok {
		return
	}
	if set, ok := r.watchers[formID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.watchers, formID)
		}
	}
	delete(r.forms, connID)
	delete(r.activity, connID)

	r.logger.Debug("preview connection unregistered",
		"connection_id", connID,
		"form_id", formID,
	)
}

// UpdateActivity refreshes connID's activity timestamp without touching
// its watch.
func (r *Router) UpdateActivity(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.forms[connID]; ok {
		r.activity[connID] = time.Now()
	}
}

// ConnectionsByForm returns the ids of every connection watching formID.
func (r *Router) ConnectionsByForm(formID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.watchers[formID]
	conns := make([]string, 0, len(set))
	for connID := range set {
		conns = append(conns, connID)
	}
	return conns
}

// FormByConnection returns the form connID currently watches, if any.
func (r *Router) FormByConnection(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	formID, ok := r.forms[connID]
	return formID, ok
}

// NotifyFormCreated dispatches a "created" change immediately, canceling any
// debounce left over for the same form id.
func (r *Router) NotifyFormCreated(ctx context.Context, formID string, data any) {
	now := time.Now()
	r.record(ctx, change.Event{FormID: formID, Type: change.TypeCreated, Timestamp: now, Payload: data})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.cancelPendingLocked(formID)
	r.mu.Unlock()

	r.dispatch(formID, EventFormUpdate, updatePayload{
		FormID:     formID,
		Timestamp:  now,
		ChangeType: string(change.TypeCreated),
		Data:       data,
	})
}

// NotifyFormUpdated schedules a debounced "updated" dispatch. Updates
// arriving inside the debounce window collapse into one dispatch carrying
// the most recent payload.
func (r *Router) NotifyFormUpdated(ctx context.Context, formID string, data any) {
	now := time.Now()
	r.record(ctx, change.Event{FormID: formID, Type: change.TypeUpdated, Timestamp: now, Payload: data})

	payload := updatePayload{
		FormID:     formID,
		Timestamp:  now,
		ChangeType: string(change.TypeUpdated),
		Data:       data,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	// A newer update cancels and replaces any pending timer for this form
	if t, ok := r.timers[formID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		// Superseded or canceled while we waited for the lock
		if r.timers[formID] != timer {
			r.mu.Unlock()
			return
		}
		delete(r.timers, formID)
		r.mu.Unlock()

		r.dispatch(formID, EventFormUpdate, payload)
	})
	r.timers[formID] = timer
}

// NotifyFormDeleted dispatches a "deleted" change immediately, cancels any
// pending debounce for the form, and afterwards force-closes and
// unregisters every connection that was watching it.
func (r *Router) NotifyFormDeleted(ctx context.Context, formID string) {
	now := time.Now()
	r.record(ctx, change.Event{FormID: formID, Type: change.TypeDeleted, Timestamp: now})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.cancelPendingLocked(formID)
	watching := make([]string, 0, len(r.watchers[formID]))
	for connID := range r.watchers[formID] {
		watching = append(watching, connID)
	}
	r.mu.Unlock()

	r.dispatch(formID, EventFormDeleted, deletedPayload{FormID: formID, Timestamp: now})

	// Nothing left to preview: close the watchers out
	for _, connID := range watching {
		r.streams.Remove(connID)
	}
	r.mu.Lock()
	for _, connID := range watching {
		r.unregisterLocked(connID)
	}
	r.mu.Unlock()
}

// cancelPendingLocked stops and forgets a pending debounce timer.
// Idempotent; the timer callback recognizes it has been canceled.
func (r *Router) cancelPendingLocked(formID string) {
	if t, ok := r.timers[formID]; ok {
		t.Stop()
		delete(r.timers, formID)
	}
}

// dispatch delivers one event to every connection watching formID.
//
// Outcomes are classified per connection: delivered, soft failure (the
// registry reports a failed send but still knows the connection; it is
// left alone), or dead (the registry no longer has it). Dead connections
// are unregistered after the loop so the watch set is never mutated while
// it is being iterated.
func (r *Router) dispatch(formID, event string, payload any) int {
	r.mu.Lock()
	set := r.watchers[formID]
	conns := make([]string, 0, len(set))
	for connID := range set {
		conns = append(conns, connID)
	}
	r.mu.Unlock()

	if len(conns) == 0 {
		r.logger.Debug("no watchers for form", "form_id", formID, "event", event)
		return 0
	}

	delivered := 0
	var dead, alive []string
	for _, connID := range conns {
		if r.streams.Send(connID, event, payload) {
			delivered++
			alive = append(alive, connID)
			continue
		}
		if r.streams.Has(connID) {
			r.logger.Warn("notification send failed",
				"connection_id", connID,
				"form_id", formID,
				"event", event,
			)
			continue
		}
		dead = append(dead, connID)
	}

	r.mu.Lock()
	// A completed delivery counts as activity for the idle sweep.
	now := time.Now()
	for _, connID := range alive {
		if _, ok := r.forms[connID]; ok {
			r.activity[connID] = now
		}
	}
	for _, connID := range dead {
		r.unregisterLocked(connID)
	}
	r.mu.Unlock()

	r.logger.Debug("form notification dispatched",
		"form_id", formID,
		"event", event,
		"delivered", delivered,
		"dead", len(dead),
	)
	return delivered
}

// record persists an accepted notification to the ledger, when one is
// configured. Failures are logged and contained.
func (r *Router) record(ctx context.Context, evt change.Event) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordChange(ctx, evt); err != nil {
		r.logger.Error("failed to record change",
			"form_id", evt.FormID,
			"change_type", evt.Type,
			"error", err,
		)
	}
}

// sweepLoop periodically evicts connections idle past the threshold.
func (r *Router) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

// evictIdle force-ends and unregisters every connection whose last
// activity is older than the idle threshold.
func (r *Router) evictIdle() {
	now := time.Now()

	r.mu.Lock()
	var stale []string
	for connID, last := range r.activity {
		if now.Sub(last) > r.idleTimeout {
			stale = append(stale, connID)
		}
	}
	r.mu.Unlock()

	for _, connID := range stale {
		r.logger.Info("evicting idle preview connection", "connection_id", connID)
		r.streams.Remove(connID)
	}

	r.mu.Lock()
	for _, connID := range stale {
		r.unregisterLocked(connID)
	}
	r.mu.Unlock()
}

// Cleanup cancels all pending debounce timers and the idle sweep, then
// clears the indices. Called once at process shutdown.
func (r *Router) Cleanup() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for formID, t := range r.timers {
		t.Stop()
		delete(r.timers, formID)
	}
	r.watchers = make(map[string]map[string]struct{})
	r.forms = make(map[string]string)
	r.activity = make(map[string]time.Time)
	r.mu.Unlock()

	close(r.done)
	r.logger.Info("router cleaned up")
}
