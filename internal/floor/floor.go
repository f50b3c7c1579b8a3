// Package floor decides when user audio takes the floor back from the AI.
package floor

import "time"

// Decision represents the action the floor manager wants to take.
type Decision struct {
	ShouldInterrupt bool
	TurnID          int64
	Reason          string // "barge_in"
}

// Config tunes barge-in sensitivity. The zero value interrupts on the first
// frame that arrives while the AI holds the floor.
type Config struct {
	MinFrames int           // consecutive qualifying frames required
	MinRMS    float64       // frame energy needed to qualify
	Guard     time.Duration // ignore frames this long after the AI starts
}

type Manager struct {
	cfg Config

	aiActive   bool
	turnID     int64
	startedAt  time.Time
	guardUntil time.Time
	consec     int
}

func New(cfg Config) *Manager {
	if cfg.MinFrames < 1 {
		cfg.MinFrames = 1
	}
	return &Manager{cfg: cfg}
}

// OnAIStarted arms the manager when an AI turn takes the floor.
func (m *Manager) OnAIStarted(turnID int64, now time.Time) {
	if m.aiActive && m.turnID == turnID {
		return
	}
	m.aiActive = true
	m.turnID = turnID
	m.startedAt = now
	m.guardUntil = now.Add(m.cfg.Guard)
	m.consec = 0
}

// OnAIStopped clears the floor regardless of which turn held it.
func (m *Manager) OnAIStopped() {
	m.aiActive = false
	m.turnID = 0
	m.consec = 0
}

// Active reports whether an AI turn currently holds the floor.
func (m *Manager) Active() bool { return m.aiActive }

// OnFrame evaluates one inbound frame by its energy.
func (m *Manager) OnFrame(rms float64, now time.Time) Decision {
	if !m.aiActive {
		return Decision{}
	}
	if rms < m.cfg.MinRMS {
		m.consec = 0
		return Decision{}
	}
	if now.Before(m.guardUntil) {
		metricGuardBlocks.Inc()
		return Decision{}
	}
	m.consec++
	if m.consec < m.cfg.MinFrames {
		return Decision{}
	}
	d := Decision{ShouldInterrupt: true, TurnID: m.turnID, Reason: "barge_in"}
	metricBargeInLatency.Observe(float64(now.Sub(m.startedAt).Milliseconds()))
	m.OnAIStopped()
	return d
}
