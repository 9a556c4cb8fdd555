package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentOverwritesOthersFillOnly(t *testing.T) {
	tr := New()
	require.True(t, tr.Set(KeyServiceType, "haircut", SourceConversation))
	assert.False(t, tr.Set(KeyServiceType, "cleaning", SourceConversation))
	assert.Equal(t, "haircut", tr.Facts.ServiceType)

	require.True(t, tr.Set(KeyServiceType, "cleaning", SourceCurrent))
	assert.Equal(t, "cleaning", tr.Facts.ServiceType)

	require.Len(t, tr.Log, 2)
	assert.Equal(t, SourceCurrent, tr.Log[1].Source)
	assert.Equal(t, "cleaning", tr.Log[1].Value)
}

func TestEmptyValuesNeverStored(t *testing.T) {
	tr := New()
	assert.False(t, tr.Set(KeyName, "   ", SourceCurrent))
	assert.False(t, tr.Set(KeyServicesOffered, []any{}, SourceCurrent))
	assert.False(t, tr.Set(KeyPreferences, map[string]any{}, SourceCurrent))
	assert.False(t, tr.Set(KeyBudgetMax, "n/a", SourceCurrent))
	assert.False(t, tr.Set("favourite_colour", "blue", SourceCurrent))

	for k, v := range tr.KnownSummary() {
		if s, ok := v.(string); ok && s == "" {
			t.Fatalf("empty string stored for %s", k)
		}
	}
	assert.Empty(t, tr.KnownSummary())
	assert.Empty(t, tr.Log)
}

func TestNumericStringsCoerced(t *testing.T) {
	tr := New()
	tr.UpdateFromExtraction(map[string]any{
		KeyBudgetMin:       "$60",
		KeyBudgetMax:       80.0,
		KeyYearsExperience: "7",
		KeyServicesOffered: "haircut, color",
	}, SourceCurrent)

	require.NotNil(t, tr.Facts.BudgetMin)
	assert.InDelta(t, 60, *tr.Facts.BudgetMin, 1e-9)
	assert.InDelta(t, 80, *tr.Facts.BudgetMax, 1e-9)
	require.NotNil(t, tr.Facts.YearsExperience)
	assert.Equal(t, 7, *tr.Facts.YearsExperience)
	assert.Equal(t, []string{"haircut", "color"}, tr.Facts.ServicesOffered)
}

func TestPreferencesMergePerKey(t *testing.T) {
	tr := New()
	tr.Set(KeyPreferences, map[string]any{"hair_type": "4C"}, SourceProfile)
	tr.Set(KeyPreferences, map[string]any{"hair_type": "3A", "hair_texture": "curly"}, SourceConversation)
	assert.Equal(t, "4C", tr.Facts.Preferences["hair_type"])
	assert.Equal(t, "curly", tr.Facts.Preferences["hair_texture"])

	tr.Set(KeyPreferences, map[string]any{"hair_type": "3A"}, SourceCurrent)
	assert.Equal(t, "3A", tr.Facts.Preferences["hair_type"])
	assert.Equal(t, "curly", tr.Facts.Preferences["hair_texture"])
}

func TestCrossSync(t *testing.T) {
	t.Run("city fills location", func(t *testing.T) {
		tr := New()
		tr.Set(KeyCity, "Oakland", SourceCurrent)
		assert.Equal(t, "Oakland", tr.Facts.Location)
	})
	t.Run("address without digits fills city", func(t *testing.T) {
		tr := New()
		tr.Set(KeyAddress, "Brooklyn", SourceCurrent)
		assert.Equal(t, "Brooklyn", tr.Facts.City)
		assert.Equal(t, "Brooklyn", tr.Facts.Location)
	})
	t.Run("street address stays out of city", func(t *testing.T) {
		tr := New()
		tr.Set(KeyAddress, "12 Main St", SourceCurrent)
		assert.Empty(t, tr.Facts.City)
		assert.Equal(t, "12 Main St", tr.KnownSummary()[KeyLocation])
	})
	t.Run("location fills city", func(t *testing.T) {
		tr := New()
		tr.Set(KeyLocation, "Brooklyn", SourceCurrent)
		assert.Equal(t, "Brooklyn", tr.Facts.City)
	})
	t.Run("derived location follows a corrected city", func(t *testing.T) {
		tr := New()
		tr.Set(KeyCity, "Brooklyn", SourceCurrent)
		require.Equal(t, "Brooklyn", tr.Facts.Location)
		tr.Set(KeyCity, "Queens", SourceCurrent)
		assert.Equal(t, "Queens", tr.Facts.Location)
		assert.Equal(t, "Queens", tr.KnownSummary()[KeyLocation])
	})
	t.Run("derived city follows a corrected location", func(t *testing.T) {
		tr := New()
		tr.UpdateFromExtraction(map[string]any{KeyLocation: "Brooklyn"}, SourceConversation)
		require.Equal(t, "Brooklyn", tr.Facts.City)
		tr.UpdateFromExtraction(map[string]any{KeyLocation: "Queens"}, SourceCurrent)
		assert.Equal(t, "Queens", tr.Facts.City)
	})
	t.Run("stated facts are never rewritten", func(t *testing.T) {
		tr := New()
		tr.Set(KeyCity, "Brooklyn", SourceCurrent)
		tr.Set(KeyLocation, "Williamsburg", SourceCurrent)
		tr.Set(KeyCity, "Queens", SourceCurrent)
		assert.Equal(t, "Williamsburg", tr.Facts.Location)
	})
}

func TestProfileDefaultLocation(t *testing.T) {
	tr := New()
	tr.UpdateFromProfile(map[string]any{
		KeyName:            "Alice Smith",
		KeyDefaultLocation: "San Francisco",
		"ignored":          "x",
	})
	assert.Equal(t, "San Francisco", tr.Facts.Location)
	assert.Equal(t, "San Francisco", tr.Facts.City)
	assert.NotContains(t, tr.MissingRequired(IntentServiceRequest), KeyLocation)
	assert.Equal(t, []string{KeyServiceType}, tr.MissingRequired(IntentServiceRequest))

	// the user's own correction still wins
	tr.UpdateFromExtraction(map[string]any{KeyLocation: "Brooklyn"}, SourceCurrent)
	assert.Equal(t, "Brooklyn", tr.Facts.Location)
}

func TestMissingNeverIntersectsKnown(t *testing.T) {
	tr := New()
	tr.UpdateFromExtraction(map[string]any{
		KeyServiceType: "haircut",
		KeyCity:        "Brooklyn",
		KeyTiming:      "this_week",
	}, SourceCurrent)

	known := tr.KnownSummary()
	for intent := range Requirements {
		for _, k := range tr.MissingRequired(intent) {
			if _, ok := known[k]; ok {
				t.Fatalf("%s: %s reported missing but known", intent, k)
			}
		}
	}
	assert.Empty(t, tr.MissingRequired(IntentServiceRequest))
	assert.Equal(t, []string{KeyProviderID}, tr.MissingRequired(IntentBooking))
	assert.Contains(t, tr.MissingOptional(IntentEnrollment), KeyServiceRadius)
}

func TestClearRequestReappliesDefaultLocation(t *testing.T) {
	tr := New()
	tr.UpdateFromProfile(map[string]any{KeyDefaultLocation: "San Francisco", KeyName: "Alice"})
	tr.UpdateFromExtraction(map[string]any{
		KeyServiceType: "haircut",
		KeyLocation:    "Brooklyn",
		KeyBudgetMax:   50,
	}, SourceCurrent)

	tr.ClearRequest()
	assert.Empty(t, tr.Facts.ServiceType)
	assert.Nil(t, tr.Facts.BudgetMax)
	assert.Equal(t, "Alice", tr.Facts.Name)
	assert.Equal(t, "San Francisco", tr.Facts.Location)
}

func TestStringRendering(t *testing.T) {
	tr := New()
	tr.Set(KeyBudgetMax, 50.0, SourceCurrent)
	tr.Set(KeyLocation, map[string]any{"city": "Austin"}, SourceCurrent)
	assert.Equal(t, "50", tr.String(KeyBudgetMax))
	assert.Equal(t, "Austin", tr.String(KeyLocation))
	assert.Equal(t, "", tr.String(KeyPhone))
}
