package config

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.APIKey = "sk-test"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults with key",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.APIKey = "" },
			wantErr: true,
		},
		{
			name:    "bad follow-up policy",
			mutate:  func(c *Config) { c.AutoFollowUp = "sometimes" },
			wantErr: true,
		},
		{
			name:    "always follow-up policy",
			mutate:  func(c *Config) { c.AutoFollowUp = FollowUpAlways },
			wantErr: false,
		},
		{
			name:    "bad kickoff kind",
			mutate:  func(c *Config) { c.KickoffKind = "verbatim" },
			wantErr: true,
		},
		{
			name:    "bad eagerness",
			mutate:  func(c *Config) { c.TurnEagerness = "max" },
			wantErr: true,
		},
		{
			name:    "zero history keep",
			mutate:  func(c *Config) { c.HistoryKeep = 0 },
			wantErr: true,
		},
		{
			name:    "empty retry delays",
			mutate:  func(c *Config) { c.MicRetryDelays = nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultTuning(t *testing.T) {
	c := Default()

	wantDelays := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	if len(c.MicRetryDelays) != len(wantDelays) {
		t.Fatalf("MicRetryDelays length = %d, want %d", len(c.MicRetryDelays), len(wantDelays))
	}
	for i, d := range wantDelays {
		if c.MicRetryDelays[i] != d {
			t.Errorf("MicRetryDelays[%d] = %v, want %v", i, c.MicRetryDelays[i], d)
		}
	}

	if c.IdleTimeout != 5*time.Second {
		t.Errorf("IdleTimeout = %v, want 5s", c.IdleTimeout)
	}
	if c.IdleTimeoutOffset != 2*time.Second {
		t.Errorf("IdleTimeoutOffset = %v, want 2s", c.IdleTimeoutOffset)
	}
	if c.WatchdogInterval != 500*time.Millisecond {
		t.Errorf("WatchdogInterval = %v, want 500ms", c.WatchdogInterval)
	}
}
