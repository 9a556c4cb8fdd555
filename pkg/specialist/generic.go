package specialist

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
)

// KnowledgeSpecialist analyzes a category purely from its knowledge
// document: subtypes, terms, warnings, pricing factors and media hints.
type KnowledgeSpecialist struct {
	base
}

// NewKnowledgeSpecialist loads the embedded document for key.
func NewKnowledgeSpecialist(key string) (*KnowledgeSpecialist, error) {
	k, err := LoadKnowledge(key)
	if err != nil {
		return nil, err
	}
	return &KnowledgeSpecialist{base{k: k}}, nil
}

// NewKnowledgeSpecialistFrom wraps an already parsed document.
func NewKnowledgeSpecialistFrom(k *Knowledge) *KnowledgeSpecialist {
	return &KnowledgeSpecialist{base{k: k}}
}

// Analyze implements Specialist.
func (g *KnowledgeSpecialist) Analyze(ctx context.Context, in Input) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}
	text := in.text()
	a := &Analysis{
		Specialist: g.Key(),
		CreatedAt:  time.Now().UTC(),
		FromMedia:  len(in.MediaDescriptions) > 0,
	}

	a.ServiceSubtype = g.k.SubtypeOf(text)
	a.Notes = append(a.Notes, "Service type: "+a.ServiceSubtype)
	if terms := g.k.TermsIn(text); len(terms) > 0 {
		a.Notes = append(a.Notes, "Terms: "+strings.Join(terms, ", "))
	}

	a.Complexity = g.k.Complexity[a.ServiceSubtype]
	if a.Complexity == "" {
		a.Complexity = ComplexityMedium
	}
	a.DurationMinutes = g.k.Durations[a.ServiceSubtype]
	if a.DurationMinutes == 0 {
		a.DurationMinutes = g.k.Durations["unknown"]
	}

	multiplier := g.k.Factor("service_type", a.ServiceSubtype)
	// Secondary dimensions match on their value names in text or timing.
	for dim, values := range g.k.PricingFactors {
		if dim == "service_type" {
			continue
		}
		names := make([]string, 0, len(values))
		for value := range values {
			names = append(names, value)
		}
		sort.Strings(names)
		for _, value := range names {
			if value == in.Timing || strings.Contains(text, strings.ReplaceAll(value, "_", " ")) {
				multiplier *= values[value]
				break
			}
		}
	}
	a.PricingMultiplier = math.Round(multiplier*100) / 100

	if a.ServiceSubtype == SubtypeUnknown {
		a.MissingInfo = append(a.MissingInfo, "Specific service not clear")
	}
	if len(in.MediaDescriptions) == 0 && len(g.k.MediaHints) > 0 {
		a.MissingInfo = append(a.MissingInfo, "No photos provided")
		a.Suggestions = append(a.Suggestions, g.k.MediaHints[0])
	}
	for _, d := range g.k.RequiredDetails {
		a.Suggestions = append(a.Suggestions, "Please mention the "+d+".")
	}
	a.Warnings = g.k.WarningsFor(text)
	a.Valid = a.ServiceSubtype != SubtypeUnknown

	a.Enriched = map[string]any{"preferences": map[string]any{"service_subtype": a.ServiceSubtype}}
	return a, nil
}
