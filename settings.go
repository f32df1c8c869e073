package entitle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/token"
	"github.com/xraph/entitle/types"
)

// Settings is an immutable snapshot of the operator-tunable parameters.
// Each operation reads one snapshot at its start and uses it throughout.
type Settings struct {
	SiteName        string        `json:"site_name"`
	MaintenanceMode bool          `json:"maintenance_mode"`
	TokenTTL        time.Duration `json:"token_ttl"`
	DemoTTL         time.Duration `json:"demo_ttl"`
	DemoMaxUsage    int64         `json:"demo_max_usage"`
	DefaultCurrency string        `json:"default_currency"`
	// CostPerCall is accumulated into service statistics per outcome.
	CostPerCall types.Money `json:"cost_per_call"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		SiteName:        "Entitle",
		TokenTTL:        token.DefaultTTL,
		DemoTTL:         demo.DefaultTTL,
		DemoMaxUsage:    demo.DefaultMaxUsage,
		DefaultCurrency: "try",
		CostPerCall:     types.USD(7),
	}
}

// SettingsSource supplies the current settings snapshot.
type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource that can be swapped atomically at
// runtime, for example by an admin endpoint.
type StaticSettings struct {
	v atomic.Pointer[Settings]
}

// NewStaticSettings creates a source holding s.
func NewStaticSettings(s Settings) *StaticSettings {
	src := &StaticSettings{}
	src.Store(s)
	return src
}

func (s *StaticSettings) Settings(context.Context) (Settings, error) {
	return *s.v.Load(), nil
}

// Store replaces the snapshot. Operations already running keep the one
// they started with.
func (s *StaticSettings) Store(v Settings) {
	s.v.Store(&v)
}

// settings reads one snapshot for the calling operation.
func (e *Engine) settings(ctx context.Context) (Settings, error) {
	s, err := e.settingsSource.Settings(ctx)
	if err != nil {
		return Settings{}, transient(err)
	}
	return s, nil
}

// Settings returns the current settings snapshot.
func (e *Engine) Settings(ctx context.Context) (Settings, error) {
	return e.settings(ctx)
}
