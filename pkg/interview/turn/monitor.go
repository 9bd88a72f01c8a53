// Package turn watches candidate speech boundaries for prolonged silence.
//
// The Monitor is a three-band timer state machine: below WarnAfter nothing happens,
// between WarnAfter and EndAfter a single reprompt is requested, and from EndAfter on
// the session is ended. Poll is driven by the session loop every PollInterval.
package turn

import (
	"sync"
	"time"
)

const (
	DefaultWarnAfter    = 25 * time.Second
	DefaultEndAfter     = 45 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Action is what the caller should do after a poll.
type Action int

const (
	ActionNone Action = iota
	// ActionWarn asks the caller to send one soft reprompt to the speech model.
	ActionWarn
	// ActionEnd asks the caller to end the session.
	ActionEnd
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionEnd:
		return "end"
	default:
		return "none"
	}
}

type Config struct {
	WarnAfter    time.Duration
	EndAfter     time.Duration
	PollInterval time.Duration
	Now          func() time.Time
}

// State is a snapshot of the monitor.
type State struct {
	LastSpeech    time.Time
	WarningIssued bool
	Silence       time.Duration
}

type Monitor struct {
	cfg Config

	mu         sync.Mutex
	active     bool
	lastSpeech time.Time
	warned     bool
	ended      bool
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.WarnAfter <= 0 {
		cfg.WarnAfter = DefaultWarnAfter
	}
	if cfg.EndAfter <= 0 {
		cfg.EndAfter = DefaultEndAfter
	}
	if cfg.EndAfter < cfg.WarnAfter {
		cfg.EndAfter = cfg.WarnAfter
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{cfg: cfg}
}

func (m *Monitor) PollInterval() time.Duration { return m.cfg.PollInterval }

// Start arms the monitor with the silence clock starting now.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.lastSpeech = m.cfg.Now()
	m.warned = false
	m.ended = false
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
}

// SpeechStarted resets the silence clock and re-enables the warning.
func (m *Monitor) SpeechStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSpeech = m.cfg.Now()
	m.warned = false
}

// SpeechStopped refreshes the silence clock so a long answer does not count as silence.
func (m *Monitor) SpeechStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSpeech = m.cfg.Now()
}

// Poll evaluates the current silence. ActionWarn is returned at most once per silence
// period and ActionEnd at most once per Start.
func (m *Monitor) Poll() Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.ended {
		return ActionNone
	}
	silence := m.cfg.Now().Sub(m.lastSpeech)
	switch {
	case silence >= m.cfg.EndAfter:
		m.ended = true
		return ActionEnd
	case silence >= m.cfg.WarnAfter && !m.warned:
		m.warned = true
		return ActionWarn
	default:
		return ActionNone
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{LastSpeech: m.lastSpeech, WarningIssued: m.warned}
	if !m.lastSpeech.IsZero() {
		st.Silence = m.cfg.Now().Sub(m.lastSpeech)
	}
	return st
}
