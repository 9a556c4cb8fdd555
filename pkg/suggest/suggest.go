// Package suggest recommends offer prices, slots and an opening message for
// a provider responding to a lead.
package suggest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"proxie/pkg/marketplace"
	"proxie/pkg/utils"
)

// DefaultBasePrice is used when neither the provider profile nor its offer
// history gives a base price.
const DefaultBasePrice = 50.0

const defaultDurationMinutes = 60

// Suggestion is a recommended offer structure.
type Suggestion struct {
	RequestID        string             `json:"request_id"`
	Reasoning        string             `json:"reasoning"`
	Message          string             `json:"suggested_message"`
	Slots            []marketplace.Slot `json:"available_slots"`
	RecommendedPrice float64            `json:"recommended_price"`
	PriceLow         float64            `json:"price_low"`
	PriceHigh        float64            `json:"price_high"`
	BasePrice        float64            `json:"base_price"`
	Multiplier       float64            `json:"multiplier"`
	DurationMinutes  int                `json:"suggested_duration_minutes"`
}

// Input is what a suggestion is computed from. History holds the prices of
// the provider's past offers for the same service type.
type Input struct {
	Request  *marketplace.Request
	Provider *marketplace.Provider
	History  []float64
}

// Service computes suggestions.
type Service struct {
	now func() time.Time
}

// New creates a Service on the wall clock.
func New() *Service {
	return &Service{now: time.Now}
}

// complexityMultiplier maps a complexity tier onto a price factor.
func complexityMultiplier(tier string) float64 {
	switch strings.ToLower(tier) {
	case "complex", "high":
		return 1.25
	case "simple", "low":
		return 0.85
	}
	return 1.0
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Suggest recommends an offer for in.Request.
func (s *Service) Suggest(ctx context.Context, in Input) (*Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}
	if in.Request == nil {
		return nil, fmt.Errorf("suggest: request is required")
	}
	req := in.Request
	analysis := req.Analysis

	complexity := utils.String(analysis, "complexity")
	if complexity == "" {
		complexity = "standard"
	}
	multiplier := complexityMultiplier(complexity)
	if f, ok := utils.FloatArg(analysis, "pricing_multiplier"); ok && f > 0 {
		multiplier *= f
	}

	base, source := basePrice(in)
	recommended := base * multiplier
	b := req.Budget
	if b.Max > 0 && recommended > b.Max {
		recommended = b.Max
	}
	if recommended < b.Min {
		recommended = b.Min
	}
	low := math.Max(b.Min, recommended*0.9)
	high := recommended * 1.2
	if b.Max > 0 {
		high = math.Min(b.Max, high)
	}

	duration := defaultDurationMinutes
	if f, ok := utils.FloatArg(analysis, "estimated_duration_minutes"); ok && f > 0 {
		duration = int(f)
	}

	return &Suggestion{
		RequestID:        req.ID,
		Reasoning:        reasoning(complexity, base, source, b),
		Message:          message(req.ServiceType, utils.String(analysis, "hair_type")),
		Slots:            s.slots(),
		RecommendedPrice: round2(recommended),
		PriceLow:         round2(low),
		PriceHigh:        round2(high),
		BasePrice:        round2(base),
		Multiplier:       round2(multiplier),
		DurationMinutes:  duration,
	}, nil
}

// basePrice picks the provider's service rate, then its history average,
// then its general rate, then DefaultBasePrice.
func basePrice(in Input) (float64, string) {
	if p := in.Provider; p != nil {
		for _, svc := range p.Services {
			if svc.Type == in.Request.ServiceType && svc.BasePrice > 0 {
				return svc.BasePrice, "your base rate"
			}
		}
	}
	if len(in.History) > 0 {
		var sum float64
		for _, v := range in.History {
			sum += v
		}
		return sum / float64(len(in.History)), "your recent offers"
	}
	if p := in.Provider; p != nil && p.BasePrice > 0 {
		return p.BasePrice, "your base rate"
	}
	return DefaultBasePrice, "the typical market rate"
}

func reasoning(complexity string, base float64, source string, b marketplace.Budget) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Based on %s complexity and %s of $%.2f.", complexity, source, base)
	switch {
	case b.Max > 0:
		fmt.Fprintf(&sb, " Consumer budget is $%.2f-$%.2f.", b.Min, b.Max)
	case b.Min > 0:
		fmt.Fprintf(&sb, " Consumer budget starts at $%.2f.", b.Min)
	}
	return sb.String()
}

func message(serviceType, hairType string) string {
	var sb strings.Builder
	sb.WriteString("Hi! I see you're looking for ")
	if serviceType == "" {
		sb.WriteString("some help. ")
	} else {
		fmt.Fprintf(&sb, "a %s. ", serviceType)
	}
	if hairType != "" {
		fmt.Fprintf(&sb, "I specialize in %s hair and would love to help. ", hairType)
	}
	sb.WriteString("I have availability during your preferred time.")
	return sb.String()
}

// slots proposes tomorrow afternoon and the following morning.
func (s *Service) slots() []marketplace.Slot {
	now := s.now()
	day1 := now.AddDate(0, 0, 1).Format(time.DateOnly)
	day2 := now.AddDate(0, 0, 2).Format(time.DateOnly)
	return []marketplace.Slot{
		{Date: day1, StartTime: "14:00"},
		{Date: day1, StartTime: "15:30"},
		{Date: day2, StartTime: "10:00"},
	}
}
