// Package assistant runs one multi-turn conversation with the meal
// assistant function: the visible turn list, the pending placeholder and
// the single in-flight request.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mealkit/internal/remote"
	"github.com/kalambet/mealkit/internal/sanitize"
	"github.com/kalambet/mealkit/internal/validate"
)

const (
	DefaultFunction = "meal-assistant"
	DefaultTimeout  = 30 * time.Second

	PlaceholderText = "Thinking..."
	TimeoutMessage  = "The assistant took too long to respond. Please try again."
	ErrorFallback   = "The assistant couldn't answer that. Please try again."
)

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	Function         string
	Timeout          time.Duration
	MaxMessageLength int

	OnAction         ActionHandler
	Invalidator      Invalidator
	InvalidationKeys map[string][]string
	Sanitizer        *sanitize.Sanitizer

	// OnChange is called after every visible change to the turn list. It is
	// never called with the manager's lock held.
	OnChange func()

	// Metadata is sent with every message.
	Metadata map[string]any
	Logger   *slog.Logger
}

// request is the handle for one in-flight call. Its flags are written only
// while the manager's lock is held and are never reset.
type request struct {
	ctx           context.Context
	cancel        context.CancelFunc
	placeholderID string
	userCancelled bool
	timedOut      bool
}

// Manager owns a single conversation. At most one request is in flight at a
// time; a submission while one is active is rejected, not queued.
type Manager struct {
	invoker remote.Invoker
	opts    Options
	logger  *slog.Logger

	mu             sync.Mutex
	turns          []Turn
	conversationID string
	active         *request

	wg sync.WaitGroup
}

func New(invoker remote.Invoker, opts Options) *Manager {
	if opts.Function == "" {
		opts.Function = DefaultFunction
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = validate.MaxMessageLength
	}
	if opts.InvalidationKeys == nil {
		opts.InvalidationKeys = DefaultInvalidationKeys()
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = sanitize.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{invoker: invoker, opts: opts, logger: logger}
}

// Submit sends text as the next user turn. It reports whether the message
// was accepted. Empty or oversized input and input sent while a request is
// in flight are rejected before any network call.
//
// The call outlives ctx's cancellation; use Cancel to abort it.
func (m *Manager) Submit(ctx context.Context, text string) bool {
	return m.SubmitErr(ctx, text) == nil
}

// ErrBusy is returned by SubmitErr when a request is already in flight.
var ErrBusy = errors.New("a reply is already pending")

// SubmitErr is Submit with the rejection reason. Validation failures are
// *validate.Error.
func (m *Manager) SubmitErr(ctx context.Context, text string) error {
	msg, err := validate.Message(text, m.opts.MaxMessageLength)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return ErrBusy
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req := &request{ctx: callCtx, cancel: cancel, placeholderID: uuid.New().String()}
	now := time.Now().UTC()
	m.turns = append(m.turns,
		Turn{ID: uuid.New().String(), Role: RoleUser, Text: msg, CreatedAt: now},
		Turn{ID: req.placeholderID, Role: RoleAssistant, Text: PlaceholderText, CreatedAt: now, Pending: true},
	)
	m.active = req
	body := requestBody{Message: msg, ConversationID: m.conversationID, Metadata: m.opts.Metadata}
	m.wg.Add(1)
	m.mu.Unlock()

	m.notify()

	go func() {
		defer m.wg.Done()
		defer cancel()
		out := m.invoker.Invoke(callCtx, remote.Request{Function: m.opts.Function, Body: body, Timeout: m.opts.Timeout})
		m.complete(req, out)
	}()
	return nil
}

func (m *Manager) complete(req *request, out remote.Outcome) {
	var resp Response
	var err error
	if err = out.Err(); err == nil {
		if err = out.Decode(&resp); err == nil && !resp.Success {
			err = errors.New(firstNonEmpty(resp.Error, resp.Message, "assistant reported failure"))
		}
	}

	m.mu.Lock()
	stale := m.active != req
	if err != nil && out.Kind == remote.KindTimeout {
		req.timedOut = true
	}
	m.mu.Unlock()

	if err != nil {
		// The raw error is recorded even when the turn is discarded.
		safe := m.opts.Sanitizer.Sanitize(req.ctx, err, ErrorFallback)
		if stale {
			m.logger.Debug("discarding failed reply for inactive request", "function", m.opts.Function)
			return
		}
		m.finish(req, func() {
			text := safe.UserMessage
			if req.timedOut {
				text = TimeoutMessage
			}
			m.turns = append(m.turns, Turn{ID: uuid.New().String(), Role: RoleAssistant, Text: text, CreatedAt: time.Now().UTC()})
		})
		return
	}

	if stale {
		m.logger.Debug("discarding reply for inactive request", "function", m.opts.Function)
		return
	}
	applied := m.finish(req, func() {
		m.turns = append(m.turns, Turn{
			ID:        uuid.New().String(),
			Role:      RoleAssistant,
			Text:      resp.Message,
			Data:      resp.Data,
			CreatedAt: time.Now().UTC(),
		})
		if resp.ConversationID != "" {
			m.conversationID = resp.ConversationID
		}
	})
	if applied {
		m.runActions(req.ctx, resp.Actions)
	}
}

// finish removes the placeholder and applies mutate if req is still the
// active request.
func (m *Manager) finish(req *request, mutate func()) bool {
	m.mu.Lock()
	if m.active != req || req.userCancelled {
		m.mu.Unlock()
		return false
	}
	m.removeTurn(req.placeholderID)
	mutate()
	m.active = nil
	m.mu.Unlock()

	m.notify()
	return true
}

func (m *Manager) runActions(ctx context.Context, actions []Action) {
	for _, a := range actions {
		if m.opts.OnAction != nil {
			if err := m.opts.OnAction(ctx, a); err != nil {
				m.logger.Warn("assistant action failed", "action", a.Type, "error", err)
			}
		}
		if keys := m.opts.InvalidationKeys[a.Type]; len(keys) > 0 && m.opts.Invalidator != nil {
			m.opts.Invalidator.Invalidate(keys...)
		}
	}
}

// Cancel aborts the in-flight request. The placeholder disappears at once
// and the eventual result of the call is discarded. It reports whether a
// request was in flight.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	req := m.active
	if req == nil {
		m.mu.Unlock()
		return false
	}
	req.userCancelled = true
	m.active = nil
	m.removeTurn(req.placeholderID)
	m.mu.Unlock()

	req.cancel()
	m.notify()
	return true
}

// Clear resets the turn list and the conversation identifier. It does not
// touch an in-flight request.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.turns = nil
	m.conversationID = ""
	m.mu.Unlock()
	m.notify()
}

// Turns returns a copy of the visible turns.
func (m *Manager) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

func (m *Manager) State() State {
	if m.InFlight() {
		return StateSending
	}
	return StateIdle
}

func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Wait blocks until every background call, including cancelled ones, has
// returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels any in-flight request and waits for background calls.
func (m *Manager) Close() {
	m.Cancel()
	m.Wait()
}

func (m *Manager) removeTurn(id string) {
	for i, t := range m.turns {
		if t.ID == id {
			m.turns = append(m.turns[:i], m.turns[i+1:]...)
			return
		}
	}
}

func (m *Manager) notify() {
	if m.opts.OnChange != nil {
		m.opts.OnChange()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// MarshalJSON renders the conversation for the local API.
func (m *Manager) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns
	if turns == nil {
		turns = []Turn{}
	}
	state := StateIdle
	if m.active != nil {
		state = StateSending
	}
	return json.Marshal(struct {
		ConversationID string `json:"conversation_id,omitempty"`
		State          string `json:"state"`
		Turns          []Turn `json:"turns"`
	}{m.conversationID, state.String(), turns})
}
