package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"clayformer.ai/internal/sim/shaping"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Shaping     Shaping     `yaml:"shaping"`
	Persistence Persistence `yaml:"persistence"`
}

type Shaping struct {
	// TickIntervalMs throttles each engine below the scheduler rate; 0 runs
	// engines on every scheduler tick.
	TickIntervalMs     int     `yaml:"tick_interval_ms"`
	MaxActionsPerTick  int     `yaml:"max_actions_per_tick"`
	CoverThreshold     float64 `yaml:"cover_threshold"`
	UnwantedPenalty    float64 `yaml:"unwanted_penalty"`
	VerticalCopyMin    int     `yaml:"vertical_copy_min"`
	PauseNoticeSeconds float64 `yaml:"pause_notice_seconds"`
	MaterialKeyword    string  `yaml:"material_keyword"`
	ConsumeOnComplete  bool    `yaml:"consume_on_complete"`
}

type Persistence struct {
	ActionLogRotateMinutes int  `yaml:"action_log_rotate_minutes"`
	IndexQueueSize         int  `yaml:"index_queue_size"`
	SnapshotOnComplete     bool `yaml:"snapshot_on_complete"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		Shaping: Shaping{
			MaxActionsPerTick:  shaping.DefaultMaxActionsPerTick,
			CoverThreshold:     0.3,
			UnwantedPenalty:    2,
			VerticalCopyMin:    shaping.DefaultVerticalCopyMin,
			PauseNoticeSeconds: shaping.DefaultPauseNoticeSeconds,
			MaterialKeyword:    "clay",
		},
		Persistence: Persistence{
			ActionLogRotateMinutes: 60,
			IndexQueueSize:         4096,
			SnapshotOnComplete:     true,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (Tuning, error) {
	t, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	return t, err
}

// Normalize replaces zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	s := &t.Shaping
	if s.MaxActionsPerTick <= 0 {
		s.MaxActionsPerTick = d.Shaping.MaxActionsPerTick
	}
	if s.CoverThreshold == 0 {
		s.CoverThreshold = d.Shaping.CoverThreshold
	}
	if s.UnwantedPenalty == 0 {
		s.UnwantedPenalty = d.Shaping.UnwantedPenalty
	}
	if s.VerticalCopyMin <= 0 {
		s.VerticalCopyMin = d.Shaping.VerticalCopyMin
	}
	if s.PauseNoticeSeconds <= 0 {
		s.PauseNoticeSeconds = d.Shaping.PauseNoticeSeconds
	}
	if s.MaterialKeyword == "" {
		s.MaterialKeyword = d.Shaping.MaterialKeyword
	}
	p := &t.Persistence
	if p.ActionLogRotateMinutes <= 0 {
		p.ActionLogRotateMinutes = d.Persistence.ActionLogRotateMinutes
	}
	if p.IndexQueueSize <= 0 {
		p.IndexQueueSize = d.Persistence.IndexQueueSize
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz too high: %d", t.TickRateHz)
	}
	s := t.Shaping
	if s.TickIntervalMs < 0 {
		return fmt.Errorf("shaping.tick_interval_ms must be >= 0, got %d", s.TickIntervalMs)
	}
	if s.CoverThreshold < 0 || s.CoverThreshold >= 1 {
		return fmt.Errorf("shaping.cover_threshold must be in [0,1), got %v", s.CoverThreshold)
	}
	if s.UnwantedPenalty < 0 {
		return fmt.Errorf("shaping.unwanted_penalty must be >= 0, got %v", s.UnwantedPenalty)
	}
	if s.VerticalCopyMin > 4 {
		return fmt.Errorf("shaping.vertical_copy_min must be <= 4, got %d", s.VerticalCopyMin)
	}
	return nil
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.TickRateHz)
}

func (s Shaping) EngineTickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

func (s Shaping) PlanParams() shaping.PlanParams {
	return shaping.PlanParams{
		Cover: shaping.CoverParams{
			Threshold: s.CoverThreshold,
			Penalty:   s.UnwantedPenalty,
		},
		VerticalCopyMin: s.VerticalCopyMin,
	}
}

func (t Tuning) ActionLogRotate() time.Duration {
	return time.Duration(t.Persistence.ActionLogRotateMinutes) * time.Minute
}
