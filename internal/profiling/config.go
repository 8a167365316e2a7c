package profiling

import (
	"encoding/json"
	"fmt"
	"time"
)

// CategoryConfig is the parsed per-category profiling configuration.
type CategoryConfig struct {
	Enabled  bool
	Interval time.Duration
	// Detailed toggles the profile log's detail mode. Only meaningful
	// for categories that support it.
	Detailed bool
}

// ParseCategoryConfig parses one config entry document. withDetailed
// marks the category as requiring the detailed flag.
//
// The document is JSON: {"enabled": bool, "interval": <seconds>,
// "detailed": bool}. interval and detailed are required only when the
// category is enabled; a disabled entry needs nothing but "enabled".
func ParseCategoryConfig(raw []byte, withDetailed bool) (CategoryConfig, error) {
	var doc struct {
		Enabled  *bool    `json:"enabled"`
		Interval *float64 `json:"interval"`
		Detailed *bool    `json:"detailed"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return CategoryConfig{}, fmt.Errorf("invalid profiling config: %w", err)
	}

	if doc.Enabled == nil {
		return CategoryConfig{}, fmt.Errorf("profiling config is missing %q", "enabled")
	}
	cfg := CategoryConfig{Enabled: *doc.Enabled}
	if !cfg.Enabled {
		return cfg, nil
	}

	if doc.Interval == nil {
		return CategoryConfig{}, fmt.Errorf("profiling config is missing %q", "interval")
	}
	if *doc.Interval <= 0 {
		return CategoryConfig{}, fmt.Errorf("profiling interval must be positive, got %v", *doc.Interval)
	}
	cfg.Interval = time.Duration(*doc.Interval * float64(time.Second))

	if withDetailed {
		if doc.Detailed == nil {
			return CategoryConfig{}, fmt.Errorf("profiling config is missing %q", "detailed")
		}
		cfg.Detailed = *doc.Detailed
	}

	return cfg, nil
}
