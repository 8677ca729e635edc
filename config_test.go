package fnhost

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// TestParseTimespan: timespan and Go duration forms
// ---------------------------------------------------------------------------

func TestParseTimespan(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "00:05:00", want: 5 * time.Minute},
		{in: "00:00:02", want: 2 * time.Second},
		{in: "00:15:00", want: 15 * time.Minute},
		{in: "1.02:03:04", want: 26*time.Hour + 3*time.Minute + 4*time.Second},
		{in: "00:00:00.5", want: 500 * time.Millisecond},
		{in: "90s", want: 90 * time.Second},
		{in: " 2m ", want: 2 * time.Minute},
		{in: "00:61:00", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "x.00:00:01", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "00:00:NaN", wantErr: true},
		{in: "00:00:Inf", wantErr: true},
		{in: "-00:00:01", wantErr: true},
		{in: "+00:00:01", wantErr: true},
		{in: "-0.00:00:01", wantErr: true},
		{in: "00:-1:00", wantErr: true},
		{in: "00:00:1e1", wantErr: true},
		{in: "00:00:01.x", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTimespan(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTimespan(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseTimespan(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// TestDefaultConfig: stock values validate
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}

	if cfg.FunctionTimeout != 5*time.Minute ||
		cfg.HTTP.MaxOutstandingRequests != 200 ||
		cfg.HTTP.MaxConcurrentRequests != 100 ||
		cfg.Retry.MaxAttempts != 3 ||
		cfg.HealthMonitor.ThresholdCount != 6 ||
		cfg.HealthMonitor.CounterThreshold != 0.8 {
		t.Fatalf("DefaultConfig() = %+v", cfg)
	}

	if got := cfg.Admission(); got.MaxOutstanding != 200 || got.MaxConcurrent != 100 || !got.DynamicThrottles {
		t.Fatalf("Admission() = %+v", got)
	}
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfigJSON(t *testing.T) {
	cfg, err := LoadConfig("testdata/host.json")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.FunctionTimeout != 150*time.Second {
		t.Fatalf("FunctionTimeout = %v, want 2m30s", cfg.FunctionTimeout)
	}

	want := HTTPSettings{RoutePrefix: "fn", MaxOutstandingRequests: 50, MaxConcurrentRequests: 10}
	if cfg.HTTP != want {
		t.Fatalf("HTTP = %+v, want %+v", cfg.HTTP, want)
	}

	wantRetry := BackoffSpec{
		Strategy:    StrategyExponential,
		MinInterval: time.Second,
		MaxInterval: time.Minute,
		MaxAttempts: 5,
	}
	if cfg.Retry != wantRetry {
		t.Fatalf("Retry = %+v, want %+v", cfg.Retry, wantRetry)
	}

	hm := cfg.HealthMonitor
	if !hm.Enabled || hm.Interval != 5*time.Second || hm.Window != time.Minute ||
		hm.ThresholdCount != 10 || hm.CounterThreshold != 0.5 {
		t.Fatalf("HealthMonitor = %+v", hm)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	cfg, err := LoadConfig("testdata/host.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.FunctionTimeout != 24*time.Hour {
		t.Fatalf("FunctionTimeout = %v, want 24h", cfg.FunctionTimeout)
	}
	if cfg.HTTP.RoutePrefix != DefaultRoutePrefix || cfg.HTTP.MaxConcurrentRequests != 4 {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Retry.Strategy != StrategyFixed || cfg.Retry.MinInterval != 3*time.Second || cfg.Retry.MaxAttempts != 2 {
		t.Fatalf("Retry = %+v", cfg.Retry)
	}
	if cfg.HealthMonitor.Enabled {
		t.Fatal("HealthMonitor.Enabled = true, want false")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := LoadConfig("testdata/invalid.json")
	if err == nil {
		t.Fatal("LoadConfig() error = nil")
	}

	msg := err.Error()
	for _, want := range []string{"functionTimeout", "maxConcurrentRequests", "counterThreshold"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %s", msg, want)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "host.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadConfig() = %v, want os.ErrNotExist", err)
	}
}

func TestParseConfigMalformed(t *testing.T) {
	if _, err := ParseConfig([]byte(`{"functionTimeout": `)); err == nil {
		t.Fatal("ParseConfig(malformed) error = nil")
	}
	if _, err := ParseConfig([]byte(`{"functionTimeout": "soon"}`)); err == nil {
		t.Fatal("ParseConfig(bad timespan) error = nil")
	}
	if _, err := ParseConfig([]byte(`{"retry": {"strategy": "linear"}}`)); err == nil {
		t.Fatal("ParseConfig(bad strategy) error = nil")
	}
}

func TestParseConfigExtensionsOverrideTopLevel(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"http": {"routePrefix": "top", "maxConcurrentRequests": 7},
		"extensions": {"http": {"routePrefix": "ext"}}
	}`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.HTTP.RoutePrefix != "ext" || cfg.HTTP.MaxConcurrentRequests != 7 {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
}

func TestParseConfigEmptyIsDefault(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("ParseConfig({}) = %+v, want defaults", cfg)
	}
}

// ---------------------------------------------------------------------------
// TestValidate: one rule per case
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative min interval", func(c *Config) { c.Retry.MinInterval = -time.Second }},
		{"max below min", func(c *Config) { c.Retry.MaxInterval = time.Second; c.Retry.MinInterval = time.Minute }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"unknown strategy", func(c *Config) { c.Retry.Strategy = "linear" }},
		{"zero outstanding", func(c *Config) { c.HTTP.MaxOutstandingRequests = 0 }},
		{"window shorter than interval", func(c *Config) { c.HealthMonitor.Window = time.Second }},
		{"zero threshold", func(c *Config) { c.HealthMonitor.ThresholdCount = 0 }},
		{"zero ratio", func(c *Config) { c.HealthMonitor.CounterThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}

	disabled := DefaultConfig()
	disabled.HealthMonitor = HealthSettings{}
	if err := disabled.Validate(); err != nil {
		t.Fatalf("Validate() with disabled monitor = %v", err)
	}
}
