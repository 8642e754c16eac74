// Package capacity implements the capacity controller: a per-thread
// forecaster that watches completed turns and decides whether an
// intervention (compact, replan, replay) is needed to keep the next turn's
// prompt inside the model's declared context window.
package capacity

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wagmii/core/internal/config"
)

// RiskBand classifies how close the next turn is to exceeding its budget.
type RiskBand string

const (
	RiskLow     RiskBand = "low"
	RiskMedium  RiskBand = "medium"
	RiskSevere  RiskBand = "severe"
)

// Action is the intervention, if any, the controller recommends.
type Action string

const (
	ActionNone    Action = "none"
	ActionRefresh Action = "refresh"
	ActionCompact Action = "compact"
	ActionReplan  Action = "replan"
	ActionReplay  Action = "replay"
)

// Decision is the output of one Observe call.
type Decision struct {
	ForecastPromptTokens     int      `json:"h_hat"`
	ForecastCompletionTokens int      `json:"c_hat"`
	Slack                    int      `json:"slack"`
	MinSlack                 int      `json:"min_slack"`
	ViolationRatio           float64  `json:"violation_ratio"`
	FailureProbability       float64  `json:"p_fail"`
	RiskBand                 RiskBand `json:"risk_band"`
	Action                   Action   `json:"action"`
	CooldownBlocked          bool     `json:"cooldown_blocked"`
	Reason                   string   `json:"reason"`
}

// Observation is what the engine reports after a completed turn.
type Observation struct {
	ThreadID             string
	PromptTokens         int
	CompletionTokens     int
	ModelContextWindow   int
	Turn                 uint64
}

// turnSample is one entry in the sliding-window profile.
type turnSample struct {
	promptTokens     int
	completionTokens int
}

// threadState is the per-thread sliding window plus cooldown bookkeeping.
type threadState struct {
	samples          []turnSample
	lastCompactTurn  int64
	lastReplanTurn   int64
	lastReplayTurn   int64
}

// Controller observes completed turns across threads and decides on
// interventions. A disabled controller is a no-op: Observe always returns
// Action: None without touching the sliding-window state or the on-disk
// memory log.
type Controller struct {
	mu      sync.Mutex
	cfg     config.CapacityConfig
	threads map[string]*threadState
}

// New creates a capacity controller from engine configuration.
func New(cfg config.CapacityConfig) *Controller {
	if cfg.ProfileWindow <= 0 {
		cfg.ProfileWindow = 8
	}
	if cfg.MinSlack <= 0 {
		cfg.MinSlack = 2000
	}
	if cfg.SevereViolationRatio <= 0 {
		cfg.SevereViolationRatio = 1.15
	}
	return &Controller{cfg: cfg, threads: make(map[string]*threadState)}
}

// Observe records a completed turn's actual sizes and returns the decision
// for the *next* turn on that thread.
func (c *Controller) Observe(obs Observation) Decision {
	if !c.cfg.Enabled {
		return Decision{Action: ActionNone, RiskBand: RiskLow, Reason: "capacity controller disabled"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.threads[obs.ThreadID]
	if !ok {
		st = &threadState{}
		c.threads[obs.ThreadID] = st
	}
	st.samples = append(st.samples, turnSample{promptTokens: obs.PromptTokens, completionTokens: obs.CompletionTokens})
	if len(st.samples) > c.cfg.ProfileWindow {
		st.samples = st.samples[len(st.samples)-c.cfg.ProfileWindow:]
	}

	hHat, cHat := forecast(st.samples)
	window := obs.ModelContextWindow
	if window <= 0 {
		window = c.cfg.ContextWindow
	}
	slack := window - (hHat + cHat)

	violationRatio := 0.0
	if window > 0 {
		violationRatio = float64(hHat+cHat) / float64(window)
	}
	pFail := failureProbability(slack, c.cfg.MinSlack, violationRatio)

	band := RiskLow
	switch {
	case slack < c.cfg.MinSlack || violationRatio >= c.cfg.SevereViolationRatio:
		band = RiskSevere
	case slack < 2*c.cfg.MinSlack:
		band = RiskMedium
	}

	decision := Decision{
		ForecastPromptTokens:     hHat,
		ForecastCompletionTokens: cHat,
		Slack:                    slack,
		MinSlack:                 c.cfg.MinSlack,
		ViolationRatio:           violationRatio,
		FailureProbability:       pFail,
		RiskBand:                 band,
	}

	turn := int64(obs.Turn)
	switch band {
	case RiskSevere:
		if turn-st.lastReplayTurn < int64(c.cfg.ReplayCooldownTurns) {
			decision.Action = ActionNone
			decision.CooldownBlocked = true
			decision.Reason = "severe risk but replay is in cooldown"
		} else {
			decision.Action = ActionReplay
			decision.Reason = "slack below minimum or violation ratio at/above severe threshold"
			st.lastReplayTurn = turn
		}
	case RiskMedium:
		if turn-st.lastCompactTurn < int64(c.cfg.CompactCooldownTurns) {
			decision.Action = ActionNone
			decision.CooldownBlocked = true
			decision.Reason = "medium risk but compact is in cooldown"
		} else {
			decision.Action = ActionCompact
			decision.Reason = "slack below twice the minimum"
			st.lastCompactTurn = turn
		}
	default:
		decision.Action = ActionNone
		decision.Reason = "within budget"
	}

	return decision
}

// forecast is a simple sliding-window average of the last N turns, biased
// slightly upward (10%) so the forecast stays conservative under growth.
func forecast(samples []turnSample) (promptTokens, completionTokens int) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sumP, sumC int
	for _, s := range samples {
		sumP += s.promptTokens
		sumC += s.completionTokens
	}
	avgP := float64(sumP) / float64(len(samples))
	avgC := float64(sumC) / float64(len(samples))
	return int(avgP * 1.1), int(avgC * 1.1)
}

// failureProbability is a smooth 0..1 estimate of the chance the next turn
// overflows its window: zero well inside the slack margin, rising toward 1
// as slack approaches zero or the violation ratio passes 1.0.
func failureProbability(slack, minSlack int, violationRatio float64) float64 {
	if minSlack <= 0 {
		minSlack = 1
	}
	slackComponent := 0.0
	if slack < minSlack {
		slackComponent = float64(minSlack-slack) / float64(minSlack)
	}
	ratioComponent := 0.0
	if violationRatio > 0.8 {
		ratioComponent = (violationRatio - 0.8) / 0.2
	}
	p := slackComponent
	if ratioComponent > p {
		p = ratioComponent
	}
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}

// MemoryRecord is one append-only capacity-memory entry: the decision the
// controller made plus whatever intervention the engine actually took (the
// engine may downgrade a Replay to a Compact if e.g. the model doesn't
// support replay).
type MemoryRecord struct {
	Time            time.Time `json:"time"`
	ThreadID        string    `json:"thread_id"`
	Turn            uint64    `json:"turn"`
	Decision        Decision  `json:"decision"`
	ActionTaken     Action    `json:"action_taken"`
	InterventionErr string    `json:"intervention_error,omitempty"`
}

// Memory appends capacity decisions/interventions to a JSONL file so a test
// harness or operator can replay exactly what the controller decided.
type Memory struct {
	mu   sync.Mutex
	path string
}

// NewMemory opens (creating if absent) the capacity-memory log at path.
func NewMemory(path string) (*Memory, error) {
	if path == "" {
		return &Memory{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Memory{path: path}, nil
}

// Append writes one record. A Memory with no backing path is a no-op sink,
// used when MemoryPath is left unset in config.
func (m *Memory) Append(rec MemoryRecord) error {
	if m == nil || m.path == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// ReadAll replays every record in the memory log, in append order.
func (m *Memory) ReadAll() ([]MemoryRecord, error) {
	if m == nil || m.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []MemoryRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec MemoryRecord
		if err := dec.Decode(&rec); err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}
