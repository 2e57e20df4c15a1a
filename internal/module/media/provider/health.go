package provider

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrProviderUnavailable is returned while a provider's circuit is open.
var ErrProviderUnavailable = errors.New("provider temporarily unavailable")

// HealthStatus represents the health status of a provider.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Gauge maps the status onto the provider health metric.
func (s HealthStatus) Gauge() float64 {
	switch s {
	case HealthStatusHealthy:
		return 1
	case HealthStatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// HealthMonitor guards provider calls with one circuit breaker per provider.
type HealthMonitor struct {
	mu       sync.Mutex
	breakers map[ID]*gobreaker.CircuitBreaker[any]
	config   *HealthMonitorConfig
	logger   *zap.Logger
}

// HealthMonitorConfig contains health monitor configuration.
type HealthMonitorConfig struct {
	FailureThreshold    uint32
	Interval            time.Duration
	Timeout             time.Duration
	MaxHalfOpenRequests uint32

	// IsSuccessful classifies call errors. Errors it accepts do not count
	// toward tripping the breaker. Nil means only nil errors succeed.
	IsSuccessful func(err error) bool

	// OnStateChange is invoked whenever a breaker changes state.
	OnStateChange func(id ID, status HealthStatus)
}

// DefaultHealthMonitorConfig returns the default health monitor configuration.
func DefaultHealthMonitorConfig() *HealthMonitorConfig {
	return &HealthMonitorConfig{
		FailureThreshold:    5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(config *HealthMonitorConfig, logger *zap.Logger) *HealthMonitor {
	if config == nil {
		config = DefaultHealthMonitorConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthMonitor{
		breakers: make(map[ID]*gobreaker.CircuitBreaker[any]),
		config:   config,
		logger:   logger.Named("provider-health"),
	}
}

// Execute runs fn with circuit breaker protection for the provider.
func (m *HealthMonitor) Execute(id ID, fn func() error) error {
	breaker := m.getOrCreateBreaker(id)

	_, err := breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", id, ErrProviderUnavailable)
	}

	return err
}

// IsHealthy checks if a provider's circuit is closed.
func (m *HealthMonitor) IsHealthy(id ID) bool {
	return m.Status(id) == HealthStatusHealthy
}

// Status returns the health status of a provider.
func (m *HealthMonitor) Status(id ID) HealthStatus {
	m.mu.Lock()
	breaker, ok := m.breakers[id]
	m.mu.Unlock()

	if !ok {
		return HealthStatusHealthy
	}
	return statusFromState(breaker.State())
}

// AllHealthStatus returns the health status of every provider seen so far.
func (m *HealthMonitor) AllHealthStatus() map[ID]HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[ID]HealthStatus, len(m.breakers))
	for id, b := range m.breakers {
		result[id] = statusFromState(b.State())
	}
	return result
}

// getOrCreateBreaker gets or creates a circuit breaker for a provider.
func (m *HealthMonitor) getOrCreateBreaker(id ID) *gobreaker.CircuitBreaker[any] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[id]; ok {
		return breaker
	}

	threshold := m.config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        string(id),
		MaxRequests: m.config.MaxHalfOpenRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: m.config.IsSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if m.config.OnStateChange != nil {
				m.config.OnStateChange(ID(name), statusFromState(to))
			}
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	m.breakers[id] = breaker

	return breaker
}

func statusFromState(s gobreaker.State) HealthStatus {
	switch s {
	case gobreaker.StateOpen:
		return HealthStatusUnhealthy
	case gobreaker.StateHalfOpen:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}
