package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"tutorbook/internal/slots"
)

// HolidayConfig is a date on which no lessons can be booked.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

// PolicyConfig is the root configuration for policy.yaml.
type PolicyConfig struct {
	BlockMinutes     int             `yaml:"block_minutes"`
	StepMinutes      int             `yaml:"step_minutes"`
	MaxBlocks        int             `yaml:"max_blocks"`
	LeadMinutes      *int            `yaml:"lead_minutes"` // unset means the default; 0 disables the lead
	LeadRoundMinutes int             `yaml:"lead_round_minutes"`
	Timezone         string          `yaml:"timezone"`
	Holidays         []HolidayConfig `yaml:"holidays"`
}

// LoadPolicyConfig loads and validates the scheduling policy from a YAML file.
func LoadPolicyConfig(path string) (*PolicyConfig, error) {
	if path == "" {
		path = "configs/policy.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config: %w", err)
	}

	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy config: %w", err)
	}
	return &cfg, nil
}

func (c *PolicyConfig) applyDefaults() {
	if c.BlockMinutes == 0 {
		c.BlockMinutes = slots.MinBlockMinutes
	}
	if c.StepMinutes == 0 {
		c.StepMinutes = slots.StepMinutes
	}
	if c.MaxBlocks == 0 {
		c.MaxBlocks = slots.MaxBlocks
	}
	if c.LeadMinutes == nil {
		lead := slots.LeadMinutes
		c.LeadMinutes = &lead
	}
	if c.LeadRoundMinutes == 0 {
		c.LeadRoundMinutes = slots.LeadRoundMinutes
	}
}

// Validate checks the policy for errors.
func (c *PolicyConfig) Validate() error {
	if c.BlockMinutes <= 0 {
		return fmt.Errorf("block_minutes must be positive, got %d", c.BlockMinutes)
	}
	if c.StepMinutes <= 0 {
		return fmt.Errorf("step_minutes must be positive, got %d", c.StepMinutes)
	}
	if c.StepMinutes > c.BlockMinutes {
		return fmt.Errorf("step_minutes (%d) cannot exceed block_minutes (%d)", c.StepMinutes, c.BlockMinutes)
	}
	if c.MaxBlocks < 1 {
		return fmt.Errorf("max_blocks must be at least 1, got %d", c.MaxBlocks)
	}
	if c.LeadMinutes != nil && *c.LeadMinutes < 0 {
		return fmt.Errorf("lead_minutes cannot be negative")
	}
	if c.LeadRoundMinutes <= 0 {
		return fmt.Errorf("lead_round_minutes must be positive, got %d", c.LeadRoundMinutes)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: unknown location '%s'", c.Timezone)
		}
	}

	seen := make(map[string]bool)
	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
		if seen[h.Date] {
			return fmt.Errorf("holiday[%d]: duplicate date %s", i, h.Date)
		}
		seen[h.Date] = true
	}
	return nil
}

// ToPolicy converts a validated config into a scheduling policy.
func (c *PolicyConfig) ToPolicy() (slots.Policy, error) {
	loc := time.Local
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return slots.Policy{}, fmt.Errorf("load timezone: %w", err)
		}
		loc = l
	}

	blackouts := make(map[string]string, len(c.Holidays))
	for _, h := range c.Holidays {
		blackouts[h.Date] = h.Name
	}

	lead := slots.LeadMinutes
	if c.LeadMinutes != nil {
		lead = *c.LeadMinutes
	}

	return slots.Policy{
		BlockMinutes:     c.BlockMinutes,
		StepMinutes:      c.StepMinutes,
		MaxBlocks:        c.MaxBlocks,
		LeadMinutes:      lead,
		LeadRoundMinutes: c.LeadRoundMinutes,
		Blackouts:        blackouts,
		Location:         loc,
	}, nil
}

// LivePolicy holds the current policy for concurrent readers.
type LivePolicy struct {
	v atomic.Pointer[slots.Policy]
}

// NewLivePolicy returns a holder initialised with p.
func NewLivePolicy(p slots.Policy) *LivePolicy {
	lp := &LivePolicy{}
	lp.Store(p)
	return lp
}

// Get returns the current policy.
func (lp *LivePolicy) Get() slots.Policy {
	if p := lp.v.Load(); p != nil {
		return *p
	}
	return slots.DefaultPolicy()
}

// Store replaces the current policy.
func (lp *LivePolicy) Store(p slots.Policy) {
	lp.v.Store(&p)
}
