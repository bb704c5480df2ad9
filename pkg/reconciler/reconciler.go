// Package reconciler bridges an opaque drawing widget to the wire protocol.
// It debounces rapid local edits into a single outbound change, drops edits
// that carry no real content change (selection and viewport noise), and
// merges remote updates into the local view without disturbing the user's
// viewport and without re-sending them as an echo.
package reconciler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kristofsajdak/claude-whiteboard/pkg/canvas"
	"github.com/kristofsajdak/claude-whiteboard/pkg/wire"
)

// State names the reconciler's position in its connection lifecycle.
// Remote merges hold StateApplyingRemote for their whole duration, which is
// what structurally blocks the outbound path instead of a timing flag.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
	StateDirty
	StateApplyingRemote
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateDirty:
		return "dirty"
	case StateApplyingRemote:
		return "applying-remote"
	}
	return "unknown"
}

// Sender delivers an outbound frame to the server.
type Sender interface {
	Send(msg wire.Message) error
}

// Widget is the drawing surface: it accepts merged element state and tells
// which elements changed remotely so it can refresh just those. Edit events
// the widget raises while SetElements runs are discarded by the reconciler.
type Widget interface {
	SetElements(elements []canvas.Element, refreshed []string)
}

// DefaultDebounceWindow matches the reference behavior of coalescing edit
// bursts for 100ms before sending.
const DefaultDebounceWindow = 100 * time.Millisecond

// Reconciler runs per connection on the client side.
type Reconciler struct {
	sender Sender
	widget Widget
	window time.Duration

	// onParticipants, when set, observes participant-count updates.
	onParticipants func(count int)

	mu       sync.Mutex
	state    State
	baseline string
	view     canvas.Document
	pending  *canvas.Document
	timer    *time.Timer
	gen      uint64
}

// Option tweaks a Reconciler at construction.
type Option func(*Reconciler)

// WithDebounceWindow overrides the outbound coalescing window.
func WithDebounceWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		r.window = d
	}
}

// WithParticipantsFunc registers an observer for participant-count updates.
func WithParticipantsFunc(fn func(count int)) Option {
	return func(r *Reconciler) {
		r.onParticipants = fn
	}
}

func New(sender Sender, widget Widget, opts ...Option) *Reconciler {
	r := &Reconciler{
		sender: sender,
		widget: widget,
		window: DefaultDebounceWindow,
		state:  StateDisconnected,
		view:   canvas.Empty(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// View returns a copy of the local in-memory document.
func (r *Reconciler) View() canvas.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// Connecting marks the transport as dialing.
func (r *Reconciler) Connecting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateConnecting
}

// Connected marks the transport as established; the next inbound
// canvas:update (the join push) establishes the baseline.
func (r *Reconciler) Connected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateSynced
}

// Disconnected clears all transient buffers and parks the reconciler until
// the transport is re-established.
func (r *Reconciler) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
	r.pending = nil
	r.baseline = ""
	r.state = StateDisconnected
}

// LocalEdit records an edit event from the widget. The in-memory view is
// updated immediately; the outbound send is armed on a debounce timer and
// only happens when the edit is a real content change relative to the last
// state sent or received.
func (r *Reconciler) LocalEdit(elements []canvas.Element, appState map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateApplyingRemote {
		// this edit event was induced by our own remote merge
		return
	}

	r.view = canvas.Document{Elements: elements, AppState: appState}
	if r.state == StateDisconnected || r.state == StateConnecting {
		return
	}

	doc := r.view.Clone()
	if doc.Fingerprint() == r.baseline {
		// selection or viewport noise, or an undo back to the baseline:
		// nothing to send, and anything previously armed is now stale
		r.stopTimerLocked()
		r.pending = nil
		r.state = StateSynced
		return
	}
	r.pending = &doc
	r.state = StateDirty
	r.armTimerLocked()
}

// Flush sends the pending change immediately, bypassing the remainder of
// the debounce window. Mostly useful on shutdown.
func (r *Reconciler) Flush() {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.flush(gen)
}

// HandleFrame processes one inbound frame. Malformed frames are logged and
// dropped; they never terminate the reconciler.
func (r *Reconciler) HandleFrame(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		slog.Error("dropping malformed frame", "err", err)
		return
	}
	switch msg.Type {
	case wire.TypeCanvasUpdate:
		doc, err := msg.Canvas()
		if err != nil {
			slog.Error("dropping malformed canvas update", "err", err)
			return
		}
		r.ApplyRemote(doc)
	case wire.TypeParticipantsUpdate:
		p, err := msg.Participants()
		if err != nil {
			slog.Error("dropping malformed participants update", "err", err)
			return
		}
		if r.onParticipants != nil {
			r.onParticipants(p.Count)
		}
	default:
		slog.Info("ignoring unknown frame type", "type", msg.Type)
	}
}

// ApplyRemote merges a remote document into the local view. The merge is
// atomic with respect to the outbound path: any pending flush is cancelled,
// the baseline advances to the incoming fingerprint before the widget sees
// the merge, and edit events the widget raises during SetElements find the
// reconciler in StateApplyingRemote and are discarded.
func (r *Reconciler) ApplyRemote(doc canvas.Document) {
	r.mu.Lock()
	if r.state == StateDisconnected {
		r.mu.Unlock()
		return
	}
	r.state = StateApplyingRemote
	r.stopTimerLocked()
	r.pending = nil
	r.baseline = doc.Fingerprint()

	merged, refreshed := canvas.Merge(r.view.Elements, doc.Elements)
	// viewport/zoom live in the local appState and are deliberately kept
	r.view.Elements = merged
	widget := r.widget
	r.mu.Unlock()

	if widget != nil {
		widget.SetElements(merged, refreshed)
	}

	r.mu.Lock()
	r.state = StateSynced
	r.mu.Unlock()
}

func (r *Reconciler) armTimerLocked() {
	r.stopTimerLocked()
	gen := r.gen
	r.timer = time.AfterFunc(r.window, func() {
		r.flush(gen)
	})
}

// stopTimerLocked cancels any armed flush; bumping gen invalidates a fire
// that already escaped Stop.
func (r *Reconciler) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *Reconciler) flush(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen || r.state != StateDirty || r.pending == nil {
		return
	}
	doc := *r.pending
	fingerprint := doc.Fingerprint()
	if fingerprint == r.baseline {
		r.pending = nil
		r.state = StateSynced
		return
	}
	msg, err := wire.NewCanvasChange(doc)
	if err != nil {
		slog.Error("failed to encode change", "err", err)
		r.pending = nil
		r.state = StateSynced
		return
	}
	if err := r.sender.Send(msg); err != nil {
		// degrade to a stale view until the next successful sync
		slog.Error("failed to send change", "err", err)
		r.pending = nil
		r.state = StateSynced
		return
	}
	r.baseline = fingerprint
	r.pending = nil
	r.state = StateSynced
}
