package fnhost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Config: the decoded, validated host settings
// ---------------------------------------------------------------------------

type (
	// Config is the host configuration, fixed at process start.
	Config struct {
		// HTTP holds the admission limits and route prefix.
		HTTP HTTPSettings
		// Retry is the backoff policy.
		Retry BackoffSpec
		// HealthMonitor configures the failure-ratio monitor.
		HealthMonitor HealthSettings
		// FunctionTimeout is the per-request deadline.
		FunctionTimeout time.Duration
	}

	// HTTPSettings holds the http.* options.
	HTTPSettings struct {
		// RoutePrefix is the path prefix the dispatcher is mounted under.
		RoutePrefix string
		// MaxOutstandingRequests caps accepted-but-incomplete requests.
		MaxOutstandingRequests int
		// MaxConcurrentRequests caps simultaneously executing requests.
		MaxConcurrentRequests int
		// DynamicThrottlesEnabled enables resource-pressure shedding.
		DynamicThrottlesEnabled bool
	}
)

// Defaults mirror a stock function host.
const (
	DefaultFunctionTimeout        = 5 * time.Minute
	DefaultRoutePrefix            = "api"
	DefaultMaxOutstandingRequests = 200
	DefaultMaxConcurrentRequests  = 100
	DefaultMaxRetryCount          = 3
	DefaultMinimumInterval        = 2 * time.Second
	DefaultMaximumInterval        = 15 * time.Minute
	DefaultHealthCheckInterval    = 10 * time.Second
	DefaultHealthCheckWindow      = 2 * time.Minute
	DefaultHealthCheckThreshold   = 6
	DefaultCounterThreshold       = 0.80
)

// DefaultConfig returns the stock host settings.
func DefaultConfig() Config {
	return Config{
		FunctionTimeout: DefaultFunctionTimeout,
		HTTP: HTTPSettings{
			RoutePrefix:             DefaultRoutePrefix,
			MaxOutstandingRequests:  DefaultMaxOutstandingRequests,
			MaxConcurrentRequests:   DefaultMaxConcurrentRequests,
			DynamicThrottlesEnabled: true,
		},
		Retry: BackoffSpec{
			Strategy:    StrategyExponential,
			MinInterval: DefaultMinimumInterval,
			MaxInterval: DefaultMaximumInterval,
			MaxAttempts: DefaultMaxRetryCount,
		},
		HealthMonitor: HealthSettings{
			Enabled:          true,
			Interval:         DefaultHealthCheckInterval,
			Window:           DefaultHealthCheckWindow,
			ThresholdCount:   DefaultHealthCheckThreshold,
			CounterThreshold: DefaultCounterThreshold,
		},
	}
}

// Admission returns the admission limits derived from the HTTP settings.
func (c Config) Admission() AdmissionLimits {
	return AdmissionLimits{
		MaxOutstanding:   c.HTTP.MaxOutstandingRequests,
		MaxConcurrent:    c.HTTP.MaxConcurrentRequests,
		DynamicThrottles: c.HTTP.DynamicThrottlesEnabled,
	}
}

// Validate reports every inconsistent setting.
func (c Config) Validate() error {
	var errs []error

	if c.FunctionTimeout <= 0 {
		errs = append(errs, errors.New("functionTimeout must be positive"))
	}

	if c.HTTP.MaxOutstandingRequests <= 0 {
		errs = append(errs, errors.New("http.maxOutstandingRequests must be positive"))
	}

	if c.HTTP.MaxConcurrentRequests <= 0 {
		errs = append(errs, errors.New("http.maxConcurrentRequests must be positive"))
	}

	if c.HTTP.MaxConcurrentRequests > c.HTTP.MaxOutstandingRequests {
		errs = append(errs, errors.New("http.maxConcurrentRequests exceeds http.maxOutstandingRequests"))
	}

	switch c.Retry.Strategy {
	case StrategyExponential, StrategyFixed:
	default:
		errs = append(errs, fmt.Errorf("retry.strategy: unknown strategy %q", c.Retry.Strategy))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.maxRetryCount must be at least 1"))
	}

	if c.Retry.MinInterval < 0 || c.Retry.MaxInterval < 0 {
		errs = append(errs, errors.New("retry intervals must not be negative"))
	}

	if c.Retry.MaxInterval > 0 && c.Retry.MaxInterval < c.Retry.MinInterval {
		errs = append(errs, errors.New("retry.maximumInterval is below retry.minimumInterval"))
	}

	if hm := c.HealthMonitor; hm.Enabled {
		if hm.Interval <= 0 {
			errs = append(errs, errors.New("healthMonitor.healthCheckInterval must be positive"))
		} else if hm.Window < hm.Interval {
			errs = append(errs, errors.New("healthMonitor.healthCheckWindow is shorter than one interval"))
		}

		if hm.ThresholdCount < 1 {
			errs = append(errs, errors.New("healthMonitor.healthCheckThreshold must be at least 1"))
		}

		if hm.CounterThreshold <= 0 || hm.CounterThreshold > 1 {
			errs = append(errs, errors.New("healthMonitor.counterThreshold must be in (0, 1]"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("fnhost: invalid config: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// File format
// ---------------------------------------------------------------------------

type (
	// HostFile is the on-disk host configuration. Every field is optional;
	// missing fields keep their defaults. Durations accept the "hh:mm:ss"
	// timespan form ("00:05:00", "1.00:00:00") or Go duration strings
	// ("5m").
	HostFile struct {
		Version         *string            `json:"version,omitempty" yaml:"version,omitempty"`
		FunctionTimeout *string            `json:"functionTimeout,omitempty" yaml:"functionTimeout,omitempty"`
		Extensions      *ExtensionsFile    `json:"extensions,omitempty" yaml:"extensions,omitempty"`
		HTTP            *HTTPFile          `json:"http,omitempty" yaml:"http,omitempty"`
		Retry           *RetryFile         `json:"retry,omitempty" yaml:"retry,omitempty"`
		HealthMonitor   *HealthMonitorFile `json:"healthMonitor,omitempty" yaml:"healthMonitor,omitempty"`
	}

	// ExtensionsFile holds the extensions section; only http is read.
	ExtensionsFile struct {
		HTTP *HTTPFile `json:"http,omitempty" yaml:"http,omitempty"`
	}

	// HTTPFile holds the http options.
	HTTPFile struct {
		RoutePrefix             *string `json:"routePrefix,omitempty" yaml:"routePrefix,omitempty"`
		MaxOutstandingRequests  *int    `json:"maxOutstandingRequests,omitempty" yaml:"maxOutstandingRequests,omitempty"`
		MaxConcurrentRequests   *int    `json:"maxConcurrentRequests,omitempty" yaml:"maxConcurrentRequests,omitempty"`
		DynamicThrottlesEnabled *bool   `json:"dynamicThrottlesEnabled,omitempty" yaml:"dynamicThrottlesEnabled,omitempty"`
	}

	// RetryFile holds the retry options. DelayInterval is the fixed
	// strategy's spelling of MinimumInterval.
	RetryFile struct {
		Strategy        *string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
		MaxRetryCount   *int    `json:"maxRetryCount,omitempty" yaml:"maxRetryCount,omitempty"`
		MinimumInterval *string `json:"minimumInterval,omitempty" yaml:"minimumInterval,omitempty"`
		MaximumInterval *string `json:"maximumInterval,omitempty" yaml:"maximumInterval,omitempty"`
		DelayInterval   *string `json:"delayInterval,omitempty" yaml:"delayInterval,omitempty"`
	}

	// HealthMonitorFile holds the healthMonitor options.
	HealthMonitorFile struct {
		Enabled              *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
		HealthCheckInterval  *string  `json:"healthCheckInterval,omitempty" yaml:"healthCheckInterval,omitempty"`
		HealthCheckWindow    *string  `json:"healthCheckWindow,omitempty" yaml:"healthCheckWindow,omitempty"`
		HealthCheckThreshold *int     `json:"healthCheckThreshold,omitempty" yaml:"healthCheckThreshold,omitempty"`
		CounterThreshold     *float64 `json:"counterThreshold,omitempty" yaml:"counterThreshold,omitempty"`
	}
)

// LoadConfig reads a host configuration file. Files ending in .yaml or .yml
// are decoded as YAML, everything else as JSON. The result is validated.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("fnhost: read config: %w", err)
	}

	var hf HostFile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &hf)
	default:
		err = json.Unmarshal(data, &hf)
	}

	if err != nil {
		return Config{}, fmt.Errorf("fnhost: parse config: %w", err)
	}

	return hf.Build()
}

// ParseConfig decodes a JSON host configuration and validates it.
func ParseConfig(data []byte) (Config, error) {
	var hf HostFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return Config{}, fmt.Errorf("fnhost: parse config: %w", err)
	}

	return hf.Build()
}

// Build applies the file over [DefaultConfig] and validates the result.
func (hf *HostFile) Build() (Config, error) {
	cfg := DefaultConfig()

	if hf.FunctionTimeout != nil {
		d, err := ParseTimespan(*hf.FunctionTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("fnhost: functionTimeout: %w", err)
		}

		cfg.FunctionTimeout = d
	}

	// extensions.http wins over a top-level http section.
	if hf.HTTP != nil {
		hf.HTTP.apply(&cfg.HTTP)
	}

	if hf.Extensions != nil && hf.Extensions.HTTP != nil {
		hf.Extensions.HTTP.apply(&cfg.HTTP)
	}

	if hf.Retry != nil {
		if err := hf.Retry.apply(&cfg.Retry); err != nil {
			return Config{}, fmt.Errorf("fnhost: %w", err)
		}
	}

	if hf.HealthMonitor != nil {
		if err := hf.HealthMonitor.apply(&cfg.HealthMonitor); err != nil {
			return Config{}, fmt.Errorf("fnhost: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (f *HTTPFile) apply(s *HTTPSettings) {
	if f.RoutePrefix != nil {
		s.RoutePrefix = *f.RoutePrefix
	}

	if f.MaxOutstandingRequests != nil {
		s.MaxOutstandingRequests = *f.MaxOutstandingRequests
	}

	if f.MaxConcurrentRequests != nil {
		s.MaxConcurrentRequests = *f.MaxConcurrentRequests
	}

	if f.DynamicThrottlesEnabled != nil {
		s.DynamicThrottlesEnabled = *f.DynamicThrottlesEnabled
	}
}

func (f *RetryFile) apply(b *BackoffSpec) error {
	if f.Strategy != nil {
		s, err := ParseBackoffStrategy(*f.Strategy)
		if err != nil {
			return fmt.Errorf("retry.strategy: %w", err)
		}

		b.Strategy = s
	}

	if f.MaxRetryCount != nil {
		b.MaxAttempts = *f.MaxRetryCount
	}

	minimum := f.MinimumInterval
	if minimum == nil {
		minimum = f.DelayInterval
	}

	if minimum != nil {
		d, err := ParseTimespan(*minimum)
		if err != nil {
			return fmt.Errorf("retry.minimumInterval: %w", err)
		}

		b.MinInterval = d
	}

	if f.MaximumInterval != nil {
		d, err := ParseTimespan(*f.MaximumInterval)
		if err != nil {
			return fmt.Errorf("retry.maximumInterval: %w", err)
		}

		b.MaxInterval = d
	}

	return nil
}

func (f *HealthMonitorFile) apply(s *HealthSettings) error {
	if f.Enabled != nil {
		s.Enabled = *f.Enabled
	}

	if f.HealthCheckInterval != nil {
		d, err := ParseTimespan(*f.HealthCheckInterval)
		if err != nil {
			return fmt.Errorf("healthMonitor.healthCheckInterval: %w", err)
		}

		s.Interval = d
	}

	if f.HealthCheckWindow != nil {
		d, err := ParseTimespan(*f.HealthCheckWindow)
		if err != nil {
			return fmt.Errorf("healthMonitor.healthCheckWindow: %w", err)
		}

		s.Window = d
	}

	if f.HealthCheckThreshold != nil {
		s.ThresholdCount = *f.HealthCheckThreshold
	}

	if f.CounterThreshold != nil {
		s.CounterThreshold = *f.CounterThreshold
	}

	return nil
}

// ParseTimespan parses "[d.]hh:mm:ss[.fraction]" or, failing that, a Go
// duration string.
func ParseTimespan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}

		return d, nil
	}

	var days time.Duration

	clock := s
	if dot := strings.Index(s, "."); dot >= 0 && dot < strings.Index(s, ":") {
		if !digits(s[:dot]) {
			return 0, fmt.Errorf("invalid timespan %q", s)
		}

		n, err := strconv.Atoi(s[:dot])
		if err != nil {
			return 0, fmt.Errorf("invalid timespan %q", s)
		}

		days = time.Duration(n) * 24 * time.Hour
		clock = s[dot+1:]
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}

	// Signs, exponents and NaN/Inf spellings are not part of the format.
	whole, frac, _ := strings.Cut(parts[2], ".")
	if !digits(parts[0]) || !digits(parts[1]) || !digits(whole) ||
		(frac != "" && !digits(frac)) {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}

	hours, errH := strconv.Atoi(parts[0])
	minutes, errM := strconv.Atoi(parts[1])
	seconds, errS := strconv.ParseFloat(parts[2], 64)

	if errH != nil || errM != nil || errS != nil || minutes > 59 || seconds >= 60 {
		return 0, fmt.Errorf("invalid timespan %q", s)
	}

	return days +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), nil
}

// digits reports whether s is a non-empty run of ASCII digits.
func digits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
