// Package specialist provides domain experts that classify, enrich and
// price-adjust service requests, driven by embedded YAML knowledge.
package specialist

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"proxie/pkg/logx"
)

// Budget is the request price range; zero means unset.
type Budget struct {
	Min float64
	Max float64
}

// Input is what a specialist analyzes.
type Input struct {
	Extra             map[string]any
	ServiceType       string
	Description       string
	Location          string
	Timing            string
	MediaDescriptions []string
	Budget            Budget
}

func (in Input) text() string {
	parts := append([]string{in.ServiceType, in.Description}, in.MediaDescriptions...)
	return strings.ToLower(strings.Join(parts, " "))
}

// Specialist analyzes requests of its categories.
type Specialist interface {
	Key() string
	Name() string
	Categories() []string
	Keywords() []string
	CanHandle(category string) bool
	Analyze(ctx context.Context, in Input) (*Analysis, error)
}

// base carries the knowledge-backed parts every specialist shares.
type base struct {
	k *Knowledge
}

func (b base) Key() string          { return b.k.Specialist }
func (b base) Name() string         { return b.k.Name }
func (b base) Categories() []string { return b.k.Categories }
func (b base) Keywords() []string   { return b.k.Keywords }

func (b base) CanHandle(category string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, c := range b.k.Categories {
		if strings.ToLower(c) == category {
			return true
		}
	}
	return false
}

// DefaultOrder is the routing order; earlier keys win ties.
//
//nolint:gochecknoglobals // fixed routing order
var DefaultOrder = []string{"haircut", "cleaning", "plumbing"}

// Registry dispatches to specialists in a fixed order.
type Registry struct {
	byKey  map[string]Specialist
	logger *logx.Logger
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Specialist), logger: logx.NewLogger("specialists")}
}

// NewDefaultRegistry loads the haircut, cleaning and plumbing specialists.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	haircut, err := NewHaircutSpecialist()
	if err != nil {
		return nil, err
	}
	r.Register(haircut)
	for _, key := range DefaultOrder[1:] {
		s, err := NewKnowledgeSpecialist(key)
		if err != nil {
			return nil, err
		}
		r.Register(s)
	}
	return r, nil
}

// Register adds s; re-registering a key replaces it in place.
func (r *Registry) Register(s Specialist) {
	key := strings.ToLower(s.Key())
	if _, exists := r.byKey[key]; !exists {
		r.order = append(r.order, key)
	}
	r.byKey[key] = s
	r.logger.Debug("registered specialist %s for %s", s.Name(), key)
}

// Keys returns the registered keys in dispatch order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// Get returns the specialist registered under key.
func (r *Registry) Get(key string) (Specialist, bool) {
	s, ok := r.byKey[strings.ToLower(strings.TrimSpace(key))]
	return s, ok
}

// Route classifies free text by keyword, in registry order. A keyword
// matches at the start of a word, so "plumb" matches "plumber" but "hair"
// does not match "chair".
func (r *Registry) Route(text string) (string, bool) {
	words := wordPrefix(text)
	for _, key := range r.order {
		for _, kw := range r.byKey[key].Keywords() {
			if p := wordPrefix(kw); p != " " && strings.Contains(words, p) {
				return key, true
			}
		}
	}
	return "", false
}

// wordPrefix lowercases text into space-separated words with a leading
// space, so a substring search for another wordPrefix anchors at word starts.
func wordPrefix(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ")
}

// FindForService resolves a service type or free text: exact key, then a
// declared category, then keyword overlap.
func (r *Registry) FindForService(service string) (Specialist, bool) {
	if s, ok := r.Get(service); ok {
		return s, true
	}
	for _, key := range r.order {
		if s := r.byKey[key]; s.CanHandle(service) {
			return s, true
		}
	}
	if key, ok := r.Route(service); ok {
		return r.byKey[key], true
	}
	return nil, false
}

// Analyze runs the specialist for key.
func (r *Registry) Analyze(ctx context.Context, key string, in Input) (*Analysis, error) {
	s, ok := r.Get(key)
	if !ok {
		return nil, fmt.Errorf("no specialist %q", key)
	}
	return s.Analyze(ctx, in)
}
