package specialist

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge/*.yaml
var knowledgeFS embed.FS

// Subtype is a named service variant and the phrases that reveal it.
type Subtype struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Knowledge is the static domain document of one specialist.
type Knowledge struct {
	PricingFactors  map[string]map[string]float64 `yaml:"pricing_factors"`
	Warnings        map[string]string             `yaml:"warnings"`
	Complexity      map[string]string             `yaml:"complexity"`
	Durations       map[string]int                `yaml:"durations"`
	Styles          map[string][]string           `yaml:"styles"`
	ColorServices   map[string][]string           `yaml:"color_services"`
	Treatments      map[string][]string           `yaml:"treatments"`
	Specialist      string                        `yaml:"specialist"`
	Name            string                        `yaml:"name"`
	Categories      []string                      `yaml:"categories"`
	Keywords        []string                      `yaml:"keywords"`
	TechnicalTerms  []string                      `yaml:"technical_terms"`
	MediaHints      []string                      `yaml:"media_hints"`
	Subtypes        []Subtype                     `yaml:"subtypes"`
	RequiredDetails []string                      `yaml:"required_details"`
}

// LoadKnowledge reads the embedded document for key.
func LoadKnowledge(key string) (*Knowledge, error) {
	data, err := knowledgeFS.ReadFile("knowledge/" + key + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no knowledge for specialist %q: %w", key, err)
	}
	return ParseKnowledge(data)
}

// ParseKnowledge decodes a YAML knowledge document.
func ParseKnowledge(data []byte) (*Knowledge, error) {
	var k Knowledge
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge: %w", err)
	}
	if k.Specialist == "" {
		return nil, fmt.Errorf("knowledge document has no specialist key")
	}
	return &k, nil
}

// Factor returns the multiplier for value along dimension, or 1.
func (k *Knowledge) Factor(dimension, value string) float64 {
	if f, ok := k.PricingFactors[dimension][value]; ok && f > 0 {
		return f
	}
	return 1.0
}

// TermsIn lists the technical terms mentioned in text (lowercase).
func (k *Knowledge) TermsIn(text string) []string {
	var out []string
	for _, term := range k.TechnicalTerms {
		if strings.Contains(text, strings.ToLower(term)) {
			out = append(out, term)
		}
	}
	return out
}

// WarningsFor matches warning keys loosely against text (lowercase).
func (k *Knowledge) WarningsFor(text string) []string {
	keys := make([]string, 0, len(k.Warnings))
	for key := range k.Warnings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var out []string
	for _, key := range keys {
		if strings.Contains(text, strings.ReplaceAll(key, "_", " ")) {
			out = append(out, k.Warnings[key])
		}
	}
	return out
}

// SubtypeOf returns the first subtype whose phrases occur in text.
func (k *Knowledge) SubtypeOf(text string) string {
	for _, st := range k.Subtypes {
		for _, kw := range st.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return st.Name
			}
		}
	}
	return "unknown"
}

// matchGroups returns the sorted distinct phrases of groups found in text.
// Group names count as phrases when includeNames is set.
func matchGroups(groups map[string][]string, text string, includeNames bool) []string {
	seen := map[string]bool{}
	for name, phrases := range groups {
		if includeNames && name != "other" && strings.Contains(text, name) {
			seen[name] = true
		}
		for _, p := range phrases {
			if strings.Contains(text, strings.ToLower(p)) {
				seen[p] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
