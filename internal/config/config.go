// Package config loads plant configuration: which plants are tracked,
// which bus each one settles against, and the inputs of the operational
// cost formula.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hbsenergia/cmgtrack/internal/busid"
)

type Plant struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	BusID           string  `yaml:"bus_id"`
	ProviderRate    float64 `yaml:"provider_rate"`
	BrentPct        float64 `yaml:"brent_pct"`
	BrentPrice      float64 `yaml:"brent_price"`
	PlantRate       float64 `yaml:"plant_rate"`
	EngineFactor    float64 `yaml:"engine_factor"`
	GuaranteeMargin float64 `yaml:"guarantee_margin"`
	Editor          string  `yaml:"editor"`
}

// OperationalCost computes the plant's cost threshold in USD/MWh:
// fuel indexed to Brent plus the provider rate, scaled by the engine
// factor, plus fixed plant costs and the contractual guarantee margin.
func (p Plant) OperationalCost() float64 {
	return ((p.BrentPct*p.BrentPrice)+p.ProviderRate)*p.EngineFactor + p.PlantRate + p.GuaranteeMargin
}

type Config struct {
	// HoldMargin widens the OFF boundary: a plant whose cost exceeds the
	// marginal cost by no more than this stays in HOLD instead of OFF.
	HoldMargin float64 `yaml:"hold_margin"`
	Plants     []Plant `yaml:"plants"`
}

// Buses returns the canonical bus identifiers referenced by the plants,
// deduplicated in plant order.
func (c Config) Buses() []string {
	seen := make(map[string]bool)
	var buses []string
	for _, p := range c.Plants {
		bus := busid.Canonical(p.BusID)
		if bus == "" || seen[bus] {
			continue
		}
		seen[bus] = true
		buses = append(buses, bus)
	}
	return buses
}

// PlantByID returns the configured plant, or nil when unknown.
func (c Config) PlantByID(id string) *Plant {
	for i := range c.Plants {
		if c.Plants[i].ID == id {
			return &c.Plants[i]
		}
	}
	return nil
}

// Default returns the built-in configuration for the two tracked plants.
func Default() Config {
	return Config{
		HoldMargin: 0,
		Plants: []Plant{
			{
				ID:              "los_angeles",
				Name:            "Central Los Angeles",
				BusID:           "CHARRUA_220",
				ProviderRate:    9.5,
				BrentPct:        0.4,
				BrentPrice:      74.0,
				PlantRate:       5.8,
				EngineFactor:    1.08,
				GuaranteeMargin: 2.0,
				Editor:          "system",
			},
			{
				ID:              "quillota",
				Name:            "Central Quillota",
				BusID:           "QUILLOTA_220",
				ProviderRate:    8.9,
				BrentPct:        0.42,
				BrentPrice:      74.0,
				PlantRate:       6.1,
				EngineFactor:    1.05,
				GuaranteeMargin: 2.0,
				Editor:          "system",
			},
		},
	}
}

// Load reads configuration from a YAML file. An empty path returns the
// built-in defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Plants) == 0 {
		return Config{}, fmt.Errorf("config %s defines no plants", path)
	}

	for i := range cfg.Plants {
		p := &cfg.Plants[i]
		if p.ID == "" {
			return Config{}, fmt.Errorf("config %s: plant %d has no id", path, i)
		}
		if p.BusID == "" {
			return Config{}, fmt.Errorf("config %s: plant %s has no bus_id", path, p.ID)
		}
		p.BusID = busid.Canonical(p.BusID)
	}

	return cfg, nil
}
