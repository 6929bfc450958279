package nexus

import (
	"errors"
	"fmt"
)

var (
	ErrWrongChannel     = errors.New("wrong channel")
	ErrWrongID          = errors.New("wrong sensor id")
	ErrTemperatureRange = errors.New("temperature out of range")
)

// Filter rejects readings that belong to other sensors or are implausible.
// The zero Filter accepts everything.
type Filter struct {
	// Channel is the display channel (1..4) to accept; 0 accepts any.
	Channel int `toml:"channel"`
	// IDs lists accepted sensor ids; empty accepts any.
	IDs []uint8 `toml:"ids"`
	// MinTemperatureC and MaxTemperatureC bound plausible temperatures.
	// The check is disabled when both are zero.
	MinTemperatureC float64 `toml:"min_temperature_c"`
	MaxTemperatureC float64 `toml:"max_temperature_c"`
}

// Check returns nil if the reading passes every configured rule.
func (f Filter) Check(r Reading) error {
	if f.Channel != 0 && r.DisplayChannel() != f.Channel {
		return fmt.Errorf("%w: got %d, want %d", ErrWrongChannel, r.DisplayChannel(), f.Channel)
	}
	if len(f.IDs) > 0 && !containsID(f.IDs, r.ID) {
		return fmt.Errorf("%w: %d", ErrWrongID, r.ID)
	}
	if f.MinTemperatureC != 0 || f.MaxTemperatureC != 0 {
		c := r.TemperatureC()
		if c < f.MinTemperatureC || c > f.MaxTemperatureC {
			return fmt.Errorf("%w: %.1fC not in [%.1f, %.1f]", ErrTemperatureRange, c, f.MinTemperatureC, f.MaxTemperatureC)
		}
	}
	return nil
}

// Validate checks the filter configuration.
func (f Filter) Validate() error {
	if f.Channel < 0 || f.Channel > 4 {
		return fmt.Errorf("channel %d out of range 1..4 (0 for any)", f.Channel)
	}
	if f.MinTemperatureC > f.MaxTemperatureC {
		return fmt.Errorf("temperature range inverted: %.1f > %.1f", f.MinTemperatureC, f.MaxTemperatureC)
	}
	return nil
}

func containsID(ids []uint8, id uint8) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
