package specialist

import (
	"fmt"
	"strings"
	"time"
)

// Complexity tiers.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// Analysis is one specialist's verdict on a request.
type Analysis struct {
	CreatedAt         time.Time      `json:"created_at"`
	Enriched          map[string]any `json:"enriched,omitempty"`
	Specialist        string         `json:"specialist"`
	ServiceSubtype    string         `json:"service_subtype,omitempty"`
	HairType          string         `json:"hair_type,omitempty"`
	HairTexture       string         `json:"hair_texture,omitempty"`
	HairLength        string         `json:"hair_length,omitempty"`
	Complexity        string         `json:"complexity"`
	MissingInfo       []string       `json:"missing_info,omitempty"`
	Suggestions       []string       `json:"suggestions,omitempty"`
	Notes             []string       `json:"notes,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
	DurationMinutes   int            `json:"estimated_duration_minutes"`
	PricingMultiplier float64        `json:"pricing_multiplier"`
	Valid             bool           `json:"valid"`
	FromMedia         bool           `json:"from_media,omitempty"`
}

// Summary renders the analysis as the note the concierge sees.
func (a *Analysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s specialist] ", a.Specialist)
	if a.ServiceSubtype != "" {
		fmt.Fprintf(&b, "service: %s; ", a.ServiceSubtype)
	}
	if a.HairType != "" {
		fmt.Fprintf(&b, "hair type: %s; ", a.HairType)
	}
	fmt.Fprintf(&b, "complexity: %s; est. %d min; price factor %.2f.",
		a.Complexity, a.DurationMinutes, a.PricingMultiplier)
	if len(a.MissingInfo) > 0 {
		fmt.Fprintf(&b, " Still needed: %s.", strings.Join(a.MissingInfo, ", "))
	}
	if len(a.Suggestions) > 0 {
		fmt.Fprintf(&b, " Suggest: %s", strings.Join(a.Suggestions, " "))
	}
	if len(a.Warnings) > 0 {
		fmt.Fprintf(&b, " Warnings: %s", strings.Join(a.Warnings, " "))
	}
	return strings.TrimSpace(b.String())
}
