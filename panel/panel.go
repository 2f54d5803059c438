package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"svcpanel/metrics"
	"svcpanel/models"
	"svcpanel/utils"
)

// SettingsAPI is the remote settings record as seen by one admin session.
// PersistSettings sends a complete record and returns the server's echo,
// or nil when the server confirmed the write without echoing it.
type SettingsAPI interface {
	FetchSettings(ctx context.Context, token string) (models.Settings, error)
	PersistSettings(ctx context.Context, token string, settings models.Settings) (*models.Settings, error)
}

// View is a point-in-time copy of a panel's state for rendering
type View struct {
	Session  models.Session
	Settings models.Settings
	Loading  bool
	Loaded   bool
	Fields   map[models.Field]FieldStatus
}

// Enabled reports the displayed value of a field
func (v View) Enabled(f models.Field) bool {
	return v.Settings.Get(f)
}

// Pending reports whether a toggle on the field is still in flight
func (v View) Pending(f models.Field) bool {
	return v.Fields[f].InFlight > 0
}

// Status returns the field's toggle state
func (v View) Status(f models.Field) ToggleState {
	if st, ok := v.Fields[f]; ok {
		return st.State
	}
	return StateIdle
}

// Option configures a Panel
type Option func(*Panel)

// WithSerializedWrites controls whether toggles are persisted one at a time.
// Serialized writes build every request body from the last confirmed server
// record, so concurrent toggles on different fields cannot undo each other.
// Unserialized writes snapshot local state at click time and adopt responses
// in arrival order.
func WithSerializedWrites(on bool) Option {
	return func(p *Panel) { p.serialize = on }
}

func WithLogger(l *utils.Logger) Option {
	return func(p *Panel) { p.log = l }
}

// WithObserver registers a callback invoked after every state change
func WithObserver(fn func(View)) Option {
	return func(p *Panel) { p.observers = append(p.observers, fn) }
}

// Panel holds the session gate and the settings panel for one admin
type Panel struct {
	api       SettingsAPI
	auth      Authenticator
	fsm       *FSM
	log       *utils.Logger
	serialize bool
	observers []func(View)

	mu       sync.Mutex
	session  models.Session
	settings models.Settings // displayed, includes optimistic flips
	server   models.Settings // last record confirmed by the server
	loaded   bool
	loading  bool
	fields   map[models.Field]*FieldStatus
	epoch    uint64
	lastSeen time.Time

	writeMu sync.Mutex
}

// New creates a logged-out panel
func New(api SettingsAPI, auth Authenticator, opts ...Option) *Panel {
	p := &Panel{
		api:       api,
		auth:      auth,
		fsm:       NewFSM(),
		log:       utils.Log,
		serialize: true,
		lastSeen:  time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.resetFields()
	return p
}

func (p *Panel) resetFields() {
	p.fields = make(map[models.Field]*FieldStatus, len(models.Fields))
	for _, f := range models.Fields {
		p.fields[f] = &FieldStatus{State: StateIdle}
	}
}

// View returns a snapshot of the current state
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

func (p *Panel) viewLocked() View {
	fields := make(map[models.Field]FieldStatus, len(p.fields))
	for f, st := range p.fields {
		fields[f] = *st
	}
	return View{
		Session:  p.session,
		Settings: p.settings,
		Loading:  p.loading,
		Loaded:   p.loaded,
		Fields:   fields,
	}
}

func (p *Panel) notify() {
	if len(p.observers) == 0 {
		return
	}
	v := p.View()
	for _, fn := range p.observers {
		fn(v)
	}
}

// Authenticated reports whether the dashboard may be shown
func (p *Panel) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Authenticated
}

// Token returns the bearer token obtained at login, if any
func (p *Panel) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Token
}

// Touch marks the panel as recently used
func (p *Panel) Touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// IsExpired reports whether the panel has been idle longer than timeout
func (p *Panel) IsExpired(timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastSeen) > timeout
}

// SubmitLogin checks the submitted pair. On success the session becomes
// authenticated and the settings are fetched; a failed fetch is logged and
// leaves the panel in its default state. On rejection the session keeps the
// entered values and carries the error message.
func (p *Panel) SubmitLogin(ctx context.Context, email, password string) error {
	p.mu.Lock()
	p.session.Email = email
	p.session.Password = password
	p.session.Error = ""
	p.lastSeen = time.Now()
	p.mu.Unlock()

	res, err := p.auth.Authenticate(ctx, email, password)
	if err != nil {
		metrics.IncLogin("error")
		p.log.Warn("Login check failed for %s: %v", email, err)
		p.mu.Lock()
		p.dropLocked()
		p.session.Error = InvalidCredentialsMessage
		p.mu.Unlock()
		p.notify()
		return err
	}

	if !res.OK {
		metrics.IncLogin("rejected")
		msg := res.Message
		if msg == "" {
			msg = InvalidCredentialsMessage
		}
		p.mu.Lock()
		p.dropLocked()
		p.session.Error = msg
		p.mu.Unlock()
		p.notify()
		return ErrInvalidCredentials
	}

	metrics.IncLogin("accepted")
	p.log.Info("Admin %s logged in", email)

	p.mu.Lock()
	p.dropLocked()
	p.session.Authenticated = true
	p.session.Error = ""
	p.session.Password = ""
	p.session.Token = res.Token
	p.mu.Unlock()
	p.notify()

	if err := p.LoadSettings(ctx); err != nil && !errors.Is(err, ErrSessionChanged) {
		if errors.Is(err, ErrUnauthorized) {
			p.mu.Lock()
			p.session.Email = email
			p.session.Error = TokenRejectedMessage
			p.mu.Unlock()
			return err
		}
		p.log.Warn("Initial settings load failed: %v", err)
	}
	return nil
}

// Logout discards the session and all panel state. Responses to requests
// started before the logout are ignored.
func (p *Panel) Logout() {
	p.mu.Lock()
	email := p.session.Email
	p.dropLocked()
	p.session = models.Session{}
	p.lastSeen = time.Now()
	p.mu.Unlock()

	if email != "" {
		p.log.Info("Admin %s logged out", email)
	}
	p.notify()
}

// dropLocked ends the authenticated state and discards the settings.
// In-flight requests see the new epoch and drop their responses.
func (p *Panel) dropLocked() {
	p.epoch++
	p.session.Authenticated = false
	p.session.Token = ""
	p.settings = models.Settings{}
	p.server = models.Settings{}
	p.loaded = false
	p.loading = false
	p.resetFields()
}

// expire logs the panel out after the settings service refused its token,
// unless the session already changed since epoch
func (p *Panel) expire(epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		return
	}
	p.log.Warn("Settings service rejected the token for %s, logging out", p.session.Email)
	p.dropLocked()
	p.session = models.Session{}
}

// LoadSettings replaces the displayed settings with the server's record.
// On failure the displayed values are left as they are.
func (p *Panel) LoadSettings(ctx context.Context) error {
	p.mu.Lock()
	if !p.session.Authenticated {
		p.mu.Unlock()
		return ErrNotAuthenticated
	}
	epoch := p.epoch
	token := p.session.Token
	if !p.loaded {
		p.loading = true
	}
	p.lastSeen = time.Now()
	p.mu.Unlock()
	p.notify()

	fetched, err := p.api.FetchSettings(ctx, token)

	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return ErrSessionChanged
	}
	p.loading = false
	if err != nil {
		p.mu.Unlock()
		metrics.IncSettingsLoad("error")
		p.log.Error("Error loading settings: %v", err)
		if errors.Is(err, ErrUnauthorized) {
			p.expire(epoch)
		}
		p.notify()
		return fmt.Errorf("load settings: %w", err)
	}
	p.server = fetched
	p.settings = p.withPendingLocked(fetched)
	p.loaded = true
	p.mu.Unlock()

	metrics.IncSettingsLoad("ok")
	p.notify()
	return nil
}

// withPendingLocked lays unresolved toggles over a server record. In
// unserialized mode the server record wins outright.
func (p *Panel) withPendingLocked(s models.Settings) models.Settings {
	if !p.serialize {
		return s
	}
	for f, st := range p.fields {
		if st.InFlight > 0 {
			s = s.With(f, st.Want)
		}
	}
	return s
}

// Toggle flips one field optimistically and persists the full record.
// The returned settings are the displayed values once the toggle resolved.
func (p *Panel) Toggle(ctx context.Context, field models.Field) (models.Settings, error) {
	if _, err := models.ParseField(string(field)); err != nil {
		return models.Settings{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	p.mu.Lock()
	if !p.session.Authenticated {
		p.mu.Unlock()
		return models.Settings{}, ErrNotAuthenticated
	}
	st := p.fields[field]
	want := !p.settings.Get(field)
	p.fsm.Transition(st, StatePending)
	st.Want = want
	st.InFlight++
	st.Err = ""
	p.settings = p.settings.With(field, want)
	body := p.settings
	epoch := p.epoch
	token := p.session.Token
	p.lastSeen = time.Now()
	p.mu.Unlock()
	p.notify()

	if p.serialize {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()

		p.mu.Lock()
		if epoch != p.epoch {
			p.mu.Unlock()
			return models.Settings{}, ErrSessionChanged
		}
		body = p.server.With(field, p.fields[field].Want)
		p.mu.Unlock()
	}

	saved, err := p.api.PersistSettings(ctx, token, body)
	if errors.Is(err, ErrUnauthorized) {
		metrics.IncToggle(string(field), "rolled_back")
		p.expire(epoch)
		p.notify()
		return models.Settings{}, fmt.Errorf("persist %s: %w", field, err)
	}
	if err != nil {
		return p.rollback(ctx, epoch, field, err)
	}
	return p.commit(epoch, field, body, saved)
}

func (p *Panel) commit(epoch uint64, field models.Field, body models.Settings, saved *models.Settings) (models.Settings, error) {
	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return models.Settings{}, ErrSessionChanged
	}

	truth := body
	if saved != nil {
		truth = *saved
	}
	p.server = truth

	st := p.fields[field]
	st.InFlight--
	if st.InFlight == 0 {
		p.fsm.Transition(st, StateCommitted)
	}

	if p.serialize {
		p.settings = p.withPendingLocked(truth)
	} else if saved != nil {
		p.settings = *saved
	}
	result := p.settings
	p.mu.Unlock()

	metrics.IncToggle(string(field), "committed")
	p.log.WithField("field", field).Debug("Toggle committed")
	p.notify()
	return result, nil
}

func (p *Panel) rollback(ctx context.Context, epoch uint64, field models.Field, cause error) (models.Settings, error) {
	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return models.Settings{}, ErrSessionChanged
	}
	st := p.fields[field]
	st.InFlight--
	st.Err = cause.Error()
	if st.InFlight == 0 {
		p.fsm.Transition(st, StateRolledBack)
	}
	p.mu.Unlock()

	metrics.IncToggle(string(field), "rolled_back")
	p.log.WithField("field", field).Error("Error updating setting: %v", cause)

	err := p.LoadSettings(ctx)
	if errors.Is(err, ErrUnauthorized) {
		return models.Settings{}, err
	}
	if err != nil && !errors.Is(err, ErrSessionChanged) {
		// Fall back to the last confirmed value.
		p.mu.Lock()
		if epoch == p.epoch && p.fields[field].InFlight == 0 {
			p.settings = p.settings.With(field, p.server.Get(field))
		}
		p.mu.Unlock()
		p.notify()
	}

	p.mu.Lock()
	result := p.settings
	p.mu.Unlock()
	return result, fmt.Errorf("persist %s: %w", field, cause)
}
