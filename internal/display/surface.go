package display

import (
	"encoding/json"
	"fmt"

	"github.com/deathcounter/backend/internal/config"
)

// Identifiers of the surface registered with the provider.
const (
	Owner       = "DeathCounter"
	SurfaceID   = "DeathCounterPanel"
	TextElement = "DeathCounterPanelText"

	AttrContent   = "Content"
	AttrFontColor = "FontColor"
)

// tierBounds are the lowest counts of tiers 1 through 5.
var tierBounds = [config.TierCount - 1]uint64{1, 4, 8, 16, 26}

// Tier maps a count to its color tier: 0, 1-3, 4-7, 8-15, 16-25, >25.
func Tier(count uint64) int {
	tier := 0
	for _, b := range tierBounds {
		if count < b {
			break
		}
		tier++
	}
	return tier
}

// ColorFor returns the configured color for count's tier.
func ColorFor(cfg *config.SyncConfig, count uint64) string {
	colors := cfg.TierColors
	if len(colors) != config.TierCount {
		colors = config.DefaultTierColors
	}
	return colors[Tier(count)]
}

type imageElement struct {
	AnchorX         string
	AnchorY         string
	Available       bool
	BackgroundColor string
	Dock            string
	Height          float64
	Margin          string
	Order           int
	URL             string `json:"Url"`
}

type textElement struct {
	Align           string
	AnchorX         string
	AnchorY         string
	Available       bool
	BackgroundColor string
	Dock            string
	FontColor       string
	FontSize        int
	Content         string
	Height          float64
	Margin          string
	Order           int
	Width           float64
}

type surfaceDefinition struct {
	Autoload        bool
	AnchorX         string
	AnchorY         string
	Available       bool
	BackgroundColor string
	Dock            string
	Width           float64
	Height          float64
	Margin          string
	Order           int
	Image           imageElement
	Text            textElement
}

// Definition renders the surface registration blob for cfg with the given
// initial content.
func Definition(cfg *config.SyncConfig, content string) ([]byte, error) {
	icon := cfg.DeathIconURL
	if icon == "" {
		icon = config.DefaultDeathIconURL
	}
	def := surfaceDefinition{
		AnchorX:         "Left",
		AnchorY:         "Top",
		Available:       true,
		BackgroundColor: cfg.BackgroundColor,
		Dock:            cfg.PanelPosition,
		Width:           cfg.PanelWidth,
		Height:          cfg.PanelHeight,
		Margin:          "0.005 0 0 0.005",
		Order:           10,
		Image: imageElement{
			AnchorX:         "Left",
			AnchorY:         "Top",
			Available:       true,
			BackgroundColor: "0.2 0.1 0.1 0.6",
			Dock:            cfg.PanelPosition,
			Height:          0.3,
			Margin:          "0.05 0.05 0.35 0.05",
			Order:           1,
			URL:             icon,
		},
		Text: textElement{
			Align:           "MiddleCenter",
			AnchorX:         "Left",
			AnchorY:         "Top",
			Available:       true,
			BackgroundColor: "0 0 0 0",
			Dock:            cfg.PanelPosition,
			FontColor:       cfg.TextColor,
			FontSize:        cfg.FontSize,
			Content:         content,
			Height:          0.65,
			Margin:          "0.35 0.05 0.05 0.05",
			Order:           2,
			Width:           0.9,
		},
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling surface definition: %w", err)
	}
	return data, nil
}
