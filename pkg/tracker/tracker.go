// Package tracker accumulates what is known about the user and the in-flight
// intent, with the source of every fact, so the assistant never re-asks.
package tracker

import (
	"time"
)

// Source is where a fact came from.
type Source string

// Fact sources.
const (
	SourceProfile      Source = "profile"
	SourceCurrent      Source = "current"
	SourceConversation Source = "conversation"
	SourceMedia        Source = "media"
)

// derivedConfidence marks facts filled by cross-sync rather than stated.
const derivedConfidence = 0.8

// KnownFact is one provenance entry.
type KnownFact struct {
	Timestamp  time.Time `json:"timestamp"`
	Value      any       `json:"value"`
	Key        string    `json:"key"`
	Source     Source    `json:"source"`
	Confidence float64   `json:"confidence"`
}

// Intent selects a requirement set.
type Intent string

// Intents.
const (
	IntentServiceRequest Intent = "service_request"
	IntentBooking        Intent = "booking"
	IntentEnrollment     Intent = "enrollment"
	IntentOffer          Intent = "offer"
)

// Requirement lists the required and optional keys of an intent.
type Requirement struct {
	Required []string
	Optional []string
}

// Requirements is the intent requirement table.
//
//nolint:gochecknoglobals // stable contract
var Requirements = map[Intent]Requirement{
	IntentServiceRequest: {
		Required: []string{KeyServiceType, KeyLocation},
		Optional: []string{KeyBudgetMin, KeyBudgetMax, KeyTiming, KeyPreferences, KeyPreferredDate},
	},
	IntentBooking: {
		Required: []string{KeyServiceType, KeyLocation, KeyTiming, KeyProviderID},
		Optional: []string{KeyBudgetMax, KeyPreferences},
	},
	IntentEnrollment: {
		Required: []string{KeyName, KeyServicesOffered, KeyLocation},
		Optional: []string{KeyBusinessName, KeyBio, KeyYearsExperience, KeyPortfolioPhotos, KeyServiceRadius},
	},
	IntentOffer: {
		Required: []string{KeyRequestID, KeyPrice, KeyAvailableDate, KeyAvailableTime},
	},
}

// Tracker is the conversational context of a session.
type Tracker struct {
	now   func() time.Time
	Facts Facts       `json:"facts"`
	Log   []KnownFact `json:"facts_log,omitempty"`
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{now: time.Now}
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

func (t *Tracker) record(key string, value any, source Source, confidence float64) {
	t.Log = append(t.Log, KnownFact{
		Key:        key,
		Value:      value,
		Source:     source,
		Confidence: confidence,
		Timestamp:  t.clock().UTC(),
	})
}

// Set stores value under key. A current-message value overwrites; any other
// source only fills an absent key. Empty values and unknown keys are ignored.
// It reports whether the context changed.
func (t *Tracker) Set(key string, value any, source Source) bool {
	changed := t.set(key, value, source, 1.0)
	if changed {
		t.sync(source)
	}
	return changed
}

func (t *Tracker) set(key string, value any, source Source, confidence float64) bool {
	if key == KeyPreferences {
		prefs, ok := value.(map[string]any)
		if !ok {
			return false
		}
		return t.mergePreferences(prefs, source)
	}
	v, ok := normalize(key, value)
	if !ok {
		return false
	}
	if t.Facts.Has(key) && source != SourceCurrent {
		return false
	}
	t.Facts.assign(key, v)
	t.record(key, v, source, confidence)
	return true
}

func (t *Tracker) mergePreferences(prefs map[string]any, source Source) bool {
	changed := false
	for k, raw := range prefs {
		v, ok := normalizePreference(raw)
		if !ok {
			continue
		}
		if _, exists := t.Facts.Preferences[k]; exists && source != SourceCurrent {
			continue
		}
		if t.Facts.Preferences == nil {
			t.Facts.Preferences = make(map[string]any)
		}
		t.Facts.Preferences[k] = v
		t.record(KeyPreferences+"."+k, v, source, 1.0)
		changed = true
	}
	return changed
}

func normalizePreference(raw any) (any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case string:
		s := toString(v)
		return s, s != ""
	case []any:
		return v, len(v) > 0
	case []string:
		return v, len(v) > 0
	case map[string]any:
		return v, len(v) > 0
	}
	return raw, true
}

// sync applies the location cross-sync rules. A derived city or location
// follows a later correction of the fact it was derived from.
func (t *Tracker) sync(source Source) {
	f := &t.Facts
	if f.City != "" && f.Location != "" && f.Location != f.City && t.derived(KeyLocation) {
		t.rederive(KeyLocation, f.City, source)
	}
	if f.Location != "" && f.City != "" && f.City != f.Location && !hasDigit(f.Location) && t.derived(KeyCity) {
		t.rederive(KeyCity, f.Location, source)
	}
	if f.City != "" && f.Location == "" {
		t.set(KeyLocation, f.City, source, derivedConfidence)
	}
	if f.Address != "" && f.City == "" && !hasDigit(f.Address) {
		t.set(KeyCity, f.Address, source, derivedConfidence)
		if f.Location == "" {
			t.set(KeyLocation, f.City, source, derivedConfidence)
		}
	}
	if f.DefaultLocation != "" && f.Location == "" {
		t.set(KeyLocation, f.DefaultLocation, SourceProfile, derivedConfidence)
	}
	if f.Location != "" && f.City == "" && !hasDigit(f.Location) {
		t.set(KeyCity, f.Location, source, derivedConfidence)
	}
}

// derived reports whether the latest value of key came from cross-sync.
func (t *Tracker) derived(key string) bool {
	for i := len(t.Log) - 1; i >= 0; i-- {
		if t.Log[i].Key == key {
			return t.Log[i].Confidence == derivedConfidence
		}
	}
	return false
}

func (t *Tracker) rederive(key, value string, source Source) {
	v, ok := normalize(key, value)
	if !ok {
		return
	}
	t.Facts.assign(key, v)
	t.record(key, v, source, derivedConfidence)
}

// profileKeys are the profile fields copied into the context.
//
//nolint:gochecknoglobals // static mapping
var profileKeys = []string{KeyName, KeyEmail, KeyPhone, KeyDefaultLocation, KeyPreferences}

// UpdateFromProfile loads stored profile facts with source profile.
func (t *Tracker) UpdateFromProfile(profile map[string]any) {
	for _, key := range profileKeys {
		if v, ok := profile[key]; ok {
			t.set(key, v, SourceProfile, 1.0)
		}
	}
	t.sync(SourceProfile)
}

// UpdateFromExtraction merges extracted facts. Unknown keys are ignored.
func (t *Tracker) UpdateFromExtraction(extracted map[string]any, source Source) {
	// Stable order keeps the provenance log deterministic.
	for _, key := range Keys {
		if v, ok := extracted[key]; ok {
			t.set(key, v, source, 1.0)
		}
	}
	t.sync(source)
}

// KnownSummary returns every non-empty fact. A synthetic location is derived
// from city or address when location itself is absent.
func (t *Tracker) KnownSummary() map[string]any {
	out := make(map[string]any)
	for _, key := range Keys {
		if v, ok := t.Facts.Get(key); ok {
			out[key] = v
		}
	}
	if _, ok := out[KeyLocation]; !ok {
		switch {
		case t.Facts.City != "":
			out[KeyLocation] = t.Facts.City
		case t.Facts.Address != "":
			out[KeyLocation] = t.Facts.Address
		}
	}
	return out
}

func (t *Tracker) missing(keys []string) []string {
	known := t.KnownSummary()
	var out []string
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// MissingRequired lists required keys of intent not yet known.
func (t *Tracker) MissingRequired(intent Intent) []string {
	return t.missing(Requirements[intent].Required)
}

// MissingOptional lists optional keys of intent not yet known.
func (t *Tracker) MissingOptional(intent Intent) []string {
	return t.missing(Requirements[intent].Optional)
}

// ClearRequest drops the request facet. The profile default location is
// re-applied so a known city survives.
func (t *Tracker) ClearRequest() {
	for _, key := range RequestKeys {
		t.Facts.clear(key)
	}
	t.sync(SourceProfile)
}

// String returns a fact rendered for prompts, or "".
func (t *Tracker) String(key string) string {
	v, ok := t.Facts.Get(key)
	if !ok {
		return ""
	}
	return toString(v)
}
