// Package activity turns the raw edit stream from an editing surface into
// two coarse signals: "meaningful text produced" and "user went idle".
package activity

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State of the tracker's session.
type State int

const (
	// StateIdle means no debounce window is open.
	StateIdle State = iota
	// StateComposing means edits have arrived and a debounce window is open.
	StateComposing
	// StateSuppressed means the remote agent is writing into the surface;
	// local signals are swallowed until suppression ends.
	StateSuppressed
)

// Config tunes the tracker. Zero values fall back to the defaults.
type Config struct {
	DebounceWindow     time.Duration
	IdleThreshold      time.Duration
	IdlePollInterval   time.Duration
	MaxTextLength      int
	MinParagraphLength int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		DebounceWindow:     2000 * time.Millisecond,
		IdleThreshold:      30 * time.Second,
		IdlePollInterval:   5 * time.Second,
		MaxTextLength:      300,
		MinParagraphLength: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = d.IdlePollInterval
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = d.MaxTextLength
	}
	if c.MinParagraphLength <= 0 {
		c.MinParagraphLength = d.MinParagraphLength
	}
	return c
}

// TextSignal carries newly composed text and the byte position it was
// extracted from.
type TextSignal struct {
	Text     string
	Position int
}

// IdleSignal reports how long the user has been inactive.
type IdleSignal struct {
	Duration time.Duration
}

// Tracker is one editing session's activity state machine. It owns its
// timers: Start arms them, Stop releases them on every path, and nothing
// fires after Stop returns.
type Tracker struct {
	cfg    Config
	log    *logrus.Entry
	onText func(TextSignal)
	onIdle func(IdleSignal)

	mutex          sync.Mutex
	state          State
	lastActivity   time.Time
	idleSignalSent bool
	lastEmitted    string
	prevLength     int
	lastView       SurfaceView
	debounce       *time.Timer
	stopChan       chan struct{}
	started        bool

	now func() time.Time
}

// NewTracker creates a tracker emitting into the two callbacks. Either
// callback may be nil.
func NewTracker(cfg Config, onText func(TextSignal), onIdle func(IdleSignal), log *logrus.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg.withDefaults(),
		log:    log.WithField("component", "activity"),
		onText: onText,
		onIdle: onIdle,
		now:    time.Now,
	}
}

// Start begins idle polling. Safe to call once per tracker.
func (t *Tracker) Start() {
	t.mutex.Lock()
	if t.started {
		t.mutex.Unlock()
		return
	}
	t.started = true
	t.stopChan = make(chan struct{})
	stopChan := t.stopChan
	t.mutex.Unlock()

	go t.idleLoop(stopChan)
}

// Stop tears the tracker down: the idle loop exits and any armed debounce
// timer is cancelled. No signal fires after Stop returns.
func (t *Tracker) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.started {
		return
	}
	t.started = false
	close(t.stopChan)
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
	t.state = StateIdle
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.state
}

// RecordEdit feeds one edit event into the state machine. Every edit resets
// the idle clock and updates the content-length baseline, even while
// suppressed. An insertion (content grew) opens or restarts the debounce
// window; a deletion never schedules an emission.
func (t *Tracker) RecordEdit(view SurfaceView) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.started {
		return
	}

	t.lastActivity = t.now()
	t.idleSignalSent = false

	previous := t.prevLength
	t.prevLength = len(view.Content)
	t.lastView = view

	if t.state == StateSuppressed {
		return
	}

	if len(view.Content) < previous {
		// Retraction. The idle clock was reset; any pending emission is
		// cancelled so a burst that ends in deletion cannot emit the
		// retracted content.
		t.state = StateIdle
		if t.debounce != nil {
			t.debounce.Stop()
			t.debounce = nil
		}
		return
	}

	t.state = StateComposing
	if t.debounce != nil {
		t.debounce.Stop()
	}
	t.debounce = time.AfterFunc(t.cfg.DebounceWindow, t.fireDebounce)
}

// BeginSuppression enters the Suppressed state: the agent has started
// writing into the surface. Any pending emission is cancelled.
func (t *Tracker) BeginSuppression() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.state = StateSuppressed
	if t.debounce != nil {
		t.debounce.Stop()
		t.debounce = nil
	}
}

// EndSuppression leaves the Suppressed state. The last-emitted text is
// cleared so the next distinct user input always emits fresh instead of
// comparing against agent-authored content.
func (t *Tracker) EndSuppression() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.state != StateSuppressed {
		return
	}
	t.state = StateIdle
	t.lastEmitted = ""
	t.prevLength = len(t.lastView.Content)
}

func (t *Tracker) fireDebounce() {
	t.mutex.Lock()

	if !t.started || t.state != StateComposing {
		t.mutex.Unlock()
		return
	}
	t.state = StateIdle

	text, position := Extract(t.lastView, t.cfg)
	if text == "" || text == t.lastEmitted {
		t.mutex.Unlock()
		return
	}
	t.lastEmitted = text
	callback := t.onText
	t.mutex.Unlock()

	t.log.WithField("chars", len(text)).Debug("emitting text signal")
	if callback != nil {
		callback(TextSignal{Text: text, Position: position})
	}
}

func (t *Tracker) idleLoop(stopChan chan struct{}) {
	ticker := time.NewTicker(t.cfg.IdlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			t.checkIdle()
		}
	}
}

// checkIdle emits at most one idle signal per idle period.
func (t *Tracker) checkIdle() {
	t.mutex.Lock()

	if !t.started || t.state == StateSuppressed || t.idleSignalSent || t.lastActivity.IsZero() {
		t.mutex.Unlock()
		return
	}
	idleFor := t.now().Sub(t.lastActivity)
	if idleFor < t.cfg.IdleThreshold {
		t.mutex.Unlock()
		return
	}
	t.idleSignalSent = true
	callback := t.onIdle
	t.mutex.Unlock()

	t.log.WithField("idle_for", idleFor).Debug("emitting idle signal")
	if callback != nil {
		callback(IdleSignal{Duration: idleFor})
	}
}
