package specialist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry()
	require.NoError(t, err)
	return r
}

func TestKnowledgeDocumentsLoad(t *testing.T) {
	for _, key := range DefaultOrder {
		k, err := LoadKnowledge(key)
		require.NoError(t, err, key)
		assert.Equal(t, key, k.Specialist)
		assert.NotEmpty(t, k.Keywords, key)
		assert.NotEmpty(t, k.PricingFactors["service_type"], key)
	}
	_, err := LoadKnowledge("astrology")
	require.Error(t, err)
}

func TestParseKnowledgeRequiresKey(t *testing.T) {
	_, err := ParseKnowledge([]byte("name: Nameless\n"))
	require.Error(t, err)
	_, err = ParseKnowledge([]byte("specialist: [unclosed"))
	require.Error(t, err)
}

func TestRegistryOrderAndDispatch(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, DefaultOrder, r.Keys())

	cases := []struct {
		input string
		want  string
	}{
		{"haircut", "haircut"},
		{"Balayage", "haircut"},
		{"deep cleaning", "cleaning"},
		{"my kitchen pipe is leaking", "plumbing"},
		// both haircut and cleaning keywords; haircut is earlier
		{"hair trim before the house party", "haircut"},
	}
	for _, tc := range cases {
		s, ok := r.FindForService(tc.input)
		require.True(t, ok, tc.input)
		assert.Equal(t, tc.want, s.Key(), tc.input)
	}

	_, ok := r.FindForService("tax preparation")
	assert.False(t, ok)
}

func TestRouteMatchesWordStarts(t *testing.T) {
	r := newRegistry(t)
	cases := []struct {
		input string
		want  string
	}{
		{"the drain behind the chair is leaking", "plumbing"},
		{"need a plumber asap", "plumbing"},
		{"Hair-cut, please", "haircut"},
		{"haircuts for two kids", "haircut"},
		{"a move-out cleaning", "cleaning"},
	}
	for _, tc := range cases {
		key, ok := r.Route(tc.input)
		require.True(t, ok, tc.input)
		assert.Equal(t, tc.want, key, tc.input)
	}

	_, ok := r.Route("please execute the chair repair")
	assert.False(t, ok, "substrings inside words do not route")
}

func TestHaircutAnalysis(t *testing.T) {
	r := newRegistry(t)
	a, err := r.Analyze(context.Background(), "haircut", Input{
		ServiceType: "haircut",
		Description: "trim and balayage for my long hair",
		Budget:      Budget{Max: 80},
	})
	require.NoError(t, err)

	assert.Equal(t, SubtypeCutAndColor, a.ServiceSubtype)
	assert.Equal(t, ComplexityHigh, a.Complexity)
	assert.Equal(t, 180, a.DurationMinutes)
	assert.Equal(t, "long", a.HairLength)
	// cut_and_color 1.8 x long 1.2
	assert.InDelta(t, 2.16, a.PricingMultiplier, 1e-9)
	assert.Contains(t, a.MissingInfo, "No photos provided")
	require.NotEmpty(t, a.Suggestions)
	assert.Contains(t, a.Suggestions[len(a.Suggestions)-1], "tight for cut and color")
}

func TestHaircutHairTypeFromMedia(t *testing.T) {
	h, err := NewHaircutSpecialist()
	require.NoError(t, err)
	a, err := h.Analyze(context.Background(), Input{
		ServiceType:       "haircut",
		Description:       "I want a fresh cut",
		MediaDescriptions: []string{"photo shows tight coily hair"},
	})
	require.NoError(t, err)
	assert.Equal(t, "4C", a.HairType)
	assert.Equal(t, "coily", a.HairTexture)
	assert.True(t, a.FromMedia)
	assert.True(t, a.Valid)

	prefs, ok := a.Enriched["preferences"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "4C", prefs["hair_type"])
	// haircut 1.0 x type_4 1.2
	assert.InDelta(t, 1.2, a.PricingMultiplier, 1e-9)
}

func TestHaircutExplicitCode(t *testing.T) {
	assert.Equal(t, "4C", detectHairType("curly 4c hair"))
	assert.Equal(t, "3B", detectHairType("curly hair"))
	assert.Equal(t, "2A", detectHairType("wavy"))
	assert.Equal(t, "", detectHairType("no idea"))
}

func TestHaircutUnknownService(t *testing.T) {
	h, err := NewHaircutSpecialist()
	require.NoError(t, err)
	a, err := h.Analyze(context.Background(), Input{ServiceType: "hair", Description: "something nice"})
	require.NoError(t, err)
	assert.Equal(t, SubtypeUnknown, a.ServiceSubtype)
	assert.False(t, a.Valid)
	assert.Contains(t, a.MissingInfo, "Specific service not clear")
}

func TestKnowledgeSpecialistPlumbing(t *testing.T) {
	r := newRegistry(t)
	a, err := r.Analyze(context.Background(), "plumbing", Input{
		ServiceType: "plumbing",
		Description: "pipe burst under the sink, there is sewage smell",
		Timing:      "asap",
	})
	require.NoError(t, err)
	assert.Equal(t, "emergency", a.ServiceSubtype)
	assert.Equal(t, ComplexityHigh, a.Complexity)
	assert.Equal(t, 180, a.DurationMinutes)
	// emergency 2.0 x asap 1.5
	assert.InDelta(t, 3.0, a.PricingMultiplier, 1e-9)
	assert.Len(t, a.Warnings, 2)
	assert.True(t, a.Valid)
}

func TestKnowledgeSpecialistCleaning(t *testing.T) {
	r := newRegistry(t)
	a, err := r.Analyze(context.Background(), "cleaning", Input{
		ServiceType:       "cleaning",
		Description:       "move out clean for a two bedroom apartment",
		MediaDescriptions: []string{"empty living room"},
	})
	require.NoError(t, err)
	assert.Equal(t, "move_out", a.ServiceSubtype)
	// move_out 1.8 x two_bedroom 1.0
	assert.InDelta(t, 1.8, a.PricingMultiplier, 1e-9)
	assert.NotContains(t, a.MissingInfo, "No photos provided")
}

func TestAnalyzeHonorsContext(t *testing.T) {
	r := newRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Analyze(ctx, "haircut", Input{ServiceType: "haircut"})
	require.ErrorIs(t, err, context.Canceled)

	_, err = r.Analyze(context.Background(), "astrology", Input{})
	require.Error(t, err)
}

func TestAnalysisSummary(t *testing.T) {
	a := &Analysis{
		Specialist:        "haircut",
		ServiceSubtype:    "haircut",
		Complexity:        ComplexityLow,
		DurationMinutes:   45,
		PricingMultiplier: 1,
		MissingInfo:       []string{"No photos provided"},
	}
	s := a.Summary()
	assert.Contains(t, s, "[haircut specialist]")
	assert.Contains(t, s, "price factor 1.00")
	assert.Contains(t, s, "Still needed: No photos provided.")
}
