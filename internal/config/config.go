package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults and accepted ranges for SyncConfig fields.
const (
	DefaultUpdateInterval = 10
	MinUpdateInterval     = 1
	MaxUpdateInterval     = 300

	DefaultPanelWidth  = 0.12
	DefaultPanelHeight = 0.95
	MinPanelDimension  = 0.01
	MaxPanelDimension  = 1.0

	DefaultFontSize = 12
	MinFontSize     = 8
	MaxFontSize     = 24

	DefaultPanelPosition   = "TopPanel"
	DefaultBackgroundColor = "0.1 0.1 0.1 0.4"
	DefaultTextColor       = "1 0.2 0.2 1"
	DefaultDeathIconURL    = "https://i.imgur.com/QvMYvdf.png"
	DefaultLocale          = "en"

	// TierCount is the number of count-to-color tiers.
	TierCount = 6
)

// ErrEmpty is returned by Parse for a file with no settings at all.
var ErrEmpty = errors.New("config is empty")

var panelPositions = []string{"TopPanel", "BottomPanel", "LeftPanel", "RightPanel"}

// DefaultTierColors go from green (no deaths) to dark red (more than 25).
var DefaultTierColors = []string{
	"0.2 0.8 0.2 1",
	"0.8 0.8 0.2 1",
	"0.8 0.6 0.2 1",
	"0.8 0.3 0.2 1",
	"0.8 0.2 0.2 1",
	"0.6 0.1 0.1 1",
}

// SyncConfig is the display and sync configuration. A loaded SyncConfig is
// treated as immutable; reloading builds a new one.
type SyncConfig struct {
	UpdateInterval    int      `yaml:"update_interval"`
	AutoShowOnConnect bool     `yaml:"auto_show_on_connect"`
	Debug             bool     `yaml:"debug"`
	Locale            string   `yaml:"locale"`
	PanelPosition     string   `yaml:"panel_position"`
	PanelWidth        float64  `yaml:"panel_width"`
	PanelHeight       float64  `yaml:"panel_height"`
	FontSize          int      `yaml:"font_size"`
	BackgroundColor   string   `yaml:"background_color"`
	TextColor         string   `yaml:"text_color"`
	TierColors        []string `yaml:"tier_colors"`
	DeathIconURL      string   `yaml:"death_icon_url"`
}

// Default returns a SyncConfig with every field at its documented default.
func Default() *SyncConfig {
	return &SyncConfig{
		UpdateInterval:    DefaultUpdateInterval,
		AutoShowOnConnect: true,
		Locale:            DefaultLocale,
		PanelPosition:     DefaultPanelPosition,
		PanelWidth:        DefaultPanelWidth,
		PanelHeight:       DefaultPanelHeight,
		FontSize:          DefaultFontSize,
		BackgroundColor:   DefaultBackgroundColor,
		TextColor:         DefaultTextColor,
		TierColors:        append([]string(nil), DefaultTierColors...),
		DeathIconURL:      DefaultDeathIconURL,
	}
}

// Interval returns the periodic panel refresh interval.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

// Clone returns a deep copy.
func (c *SyncConfig) Clone() *SyncConfig {
	cp := *c
	cp.TierColors = append([]string(nil), c.TierColors...)
	return &cp
}

// inRange is false for NaN.
func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// Validate resets out-of-range fields to their defaults and returns one
// message per corrected field.
func (c *SyncConfig) Validate() []string {
	var fixes []string

	if c.UpdateInterval < MinUpdateInterval || c.UpdateInterval > MaxUpdateInterval {
		fixes = append(fixes, fmt.Sprintf("update_interval %d out of range (%d-%d), reset to %d",
			c.UpdateInterval, MinUpdateInterval, MaxUpdateInterval, DefaultUpdateInterval))
		c.UpdateInterval = DefaultUpdateInterval
	}
	if !inRange(c.PanelWidth, MinPanelDimension, MaxPanelDimension) {
		fixes = append(fixes, fmt.Sprintf("panel_width %g out of range (%g-%g), reset to %g",
			c.PanelWidth, MinPanelDimension, MaxPanelDimension, DefaultPanelWidth))
		c.PanelWidth = DefaultPanelWidth
	}
	if !inRange(c.PanelHeight, MinPanelDimension, MaxPanelDimension) {
		fixes = append(fixes, fmt.Sprintf("panel_height %g out of range (%g-%g), reset to %g",
			c.PanelHeight, MinPanelDimension, MaxPanelDimension, DefaultPanelHeight))
		c.PanelHeight = DefaultPanelHeight
	}
	if c.FontSize < MinFontSize || c.FontSize > MaxFontSize {
		fixes = append(fixes, fmt.Sprintf("font_size %d out of range (%d-%d), reset to %d",
			c.FontSize, MinFontSize, MaxFontSize, DefaultFontSize))
		c.FontSize = DefaultFontSize
	}
	if !validPosition(c.PanelPosition) {
		fixes = append(fixes, fmt.Sprintf("panel_position %q unknown, reset to %s", c.PanelPosition, DefaultPanelPosition))
		c.PanelPosition = DefaultPanelPosition
	}
	if !ValidColor(c.BackgroundColor) {
		fixes = append(fixes, fmt.Sprintf("background_color %q invalid, reset", c.BackgroundColor))
		c.BackgroundColor = DefaultBackgroundColor
	}
	if !ValidColor(c.TextColor) {
		fixes = append(fixes, fmt.Sprintf("text_color %q invalid, reset", c.TextColor))
		c.TextColor = DefaultTextColor
	}
	if !validTierColors(c.TierColors) {
		fixes = append(fixes, fmt.Sprintf("tier_colors must list %d valid colors, reset", TierCount))
		c.TierColors = append([]string(nil), DefaultTierColors...)
	}
	if strings.TrimSpace(c.DeathIconURL) == "" {
		fixes = append(fixes, "death_icon_url empty, reset to default icon")
		c.DeathIconURL = DefaultDeathIconURL
	}
	if strings.TrimSpace(c.Locale) == "" {
		fixes = append(fixes, "locale empty, reset to "+DefaultLocale)
		c.Locale = DefaultLocale
	}

	return fixes
}

// Parse decodes a YAML config over the defaults and validates it. The
// returned fixes list every field that was missing from data or corrected
// by Validate; a non-empty list means the file should be rewritten.
func Parse(data []byte) (*SyncConfig, []string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil, ErrEmpty
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("decoding config: %w", err)
	}

	var fixes []string
	for _, key := range knownKeys() {
		if _, ok := raw[key]; !ok {
			fixes = append(fixes, "missing "+key+", using default")
		}
	}
	fixes = append(fixes, cfg.Validate()...)
	return cfg, fixes, nil
}

// Encode renders cfg as YAML.
func Encode(cfg *SyncConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}

// ValidColor reports whether s is four space-separated RGBA components in
// [0,1].
func ValidColor(s string) bool {
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || v > 1 {
			return false
		}
	}
	return true
}

func validTierColors(colors []string) bool {
	if len(colors) != TierCount {
		return false
	}
	for _, c := range colors {
		if !ValidColor(c) {
			return false
		}
	}
	return true
}

func validPosition(p string) bool {
	for _, v := range panelPositions {
		if p == v {
			return true
		}
	}
	return false
}

// knownKeys lists the top-level YAML keys of SyncConfig.
func knownKeys() []string {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
