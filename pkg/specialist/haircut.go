package specialist

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// HairTypes is the 1A-4C classification.
//
//nolint:gochecknoglobals // static taxonomy
var HairTypes = map[string]string{
	"1A": "Fine straight hair",
	"1B": "Medium straight hair",
	"1C": "Coarse straight hair",
	"2A": "Loose S-waves",
	"2B": "Defined S-waves",
	"2C": "Strong waves",
	"3A": "Loose curls",
	"3B": "Springy curls",
	"3C": "Tight curls",
	"4A": "Soft coils",
	"4B": "Z-pattern coils",
	"4C": "Tight Z-pattern coils",
}

// Haircut service subtypes.
const (
	SubtypeCutAndColor = "cut_and_color"
	SubtypeColor       = "color"
	SubtypeTreatment   = "treatment"
	SubtypeStyling     = "styling"
	SubtypeHaircut     = "haircut"
	SubtypeUnknown     = "unknown"
)

var hairCodeRe = regexp.MustCompile(`(?i)\b([1-4][abc])\b`)

// HaircutSpecialist handles hair services.
type HaircutSpecialist struct {
	base
}

// NewHaircutSpecialist loads the embedded haircut knowledge.
func NewHaircutSpecialist() (*HaircutSpecialist, error) {
	k, err := LoadKnowledge("haircut")
	if err != nil {
		return nil, err
	}
	return &HaircutSpecialist{base{k: k}}, nil
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Analyze implements Specialist.
func (h *HaircutSpecialist) Analyze(ctx context.Context, in Input) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}
	text := in.text()
	a := &Analysis{
		Specialist: h.Key(),
		CreatedAt:  time.Now().UTC(),
		FromMedia:  len(in.MediaDescriptions) > 0,
	}

	a.ServiceSubtype = detectHairService(text)
	a.Notes = append(a.Notes, "Service type: "+a.ServiceSubtype)

	a.HairType = detectHairType(text)
	if a.HairType != "" {
		a.Notes = append(a.Notes, fmt.Sprintf("Detected hair type: %s (%s)", a.HairType, HairTypes[a.HairType]))
	}
	a.HairTexture = detectTexture(text)
	a.HairLength = detectLength(text)

	styles := matchGroups(h.k.Styles, text, true)
	colors := matchGroups(h.k.ColorServices, text, false)
	treatments := matchGroups(h.k.Treatments, text, false)
	if len(styles) > 0 {
		a.Notes = append(a.Notes, "Requested styles: "+strings.Join(styles, ", "))
	}
	if len(colors) > 0 {
		a.Notes = append(a.Notes, "Color services: "+strings.Join(colors, ", "))
	}
	if len(treatments) > 0 {
		a.Notes = append(a.Notes, "Treatments: "+strings.Join(treatments, ", "))
	}
	if terms := h.k.TermsIn(text); len(terms) > 0 {
		a.Notes = append(a.Notes, "Terms: "+strings.Join(terms, ", "))
	}

	a.Complexity = hairComplexity(a.ServiceSubtype, colors, treatments)
	a.DurationMinutes = hairDuration(a.ServiceSubtype, colors, treatments)

	multiplier := h.k.Factor("service_type", a.ServiceSubtype)
	if a.HairLength != "" {
		multiplier *= h.k.Factor("hair_length", a.HairLength)
	}
	if a.HairType != "" {
		multiplier *= h.k.Factor("hair_family", "type_"+a.HairType[:1])
	}
	a.PricingMultiplier = math.Round(multiplier*100) / 100

	switch {
	case len(in.MediaDescriptions) == 0:
		a.MissingInfo = append(a.MissingInfo, "No photos provided")
		if len(h.k.MediaHints) > 0 {
			a.Suggestions = append(a.Suggestions, h.k.MediaHints[0])
		}
	case len(in.MediaDescriptions) == 1 && !strings.Contains(text, "back") && len(h.k.MediaHints) > 1:
		a.Suggestions = append(a.Suggestions, h.k.MediaHints[1])
	}
	if a.HairType == "" && len(in.MediaDescriptions) == 0 {
		a.MissingInfo = append(a.MissingInfo, "Hair type unknown")
	}
	if a.ServiceSubtype == SubtypeUnknown {
		a.MissingInfo = append(a.MissingInfo, "Specific service not clear")
		a.Suggestions = append(a.Suggestions, "What type of service are you looking for - a cut, color, or treatment?")
	}
	if feedback := hairBudgetFeedback(in.Budget, a.ServiceSubtype, colors, treatments); feedback != "" {
		a.Suggestions = append(a.Suggestions, feedback)
	}
	a.Warnings = h.k.WarningsFor(text)

	a.Valid = len(a.MissingInfo) == 0 || (len(a.MissingInfo) == 1 && a.MissingInfo[0] == "No photos provided")

	prefs := map[string]any{"service_subtype": a.ServiceSubtype}
	if a.HairType != "" {
		prefs["hair_type"] = a.HairType
	}
	if a.HairTexture != "" {
		prefs["hair_texture"] = a.HairTexture
	}
	if a.HairLength != "" {
		prefs["hair_length"] = a.HairLength
	}
	if len(styles) > 0 {
		prefs["styles"] = styles
	}
	a.Enriched = map[string]any{"preferences": prefs}
	return a, nil
}

func detectHairService(text string) string {
	if containsAny(text, "color", "colour", "dye", "highlight", "balayage", "ombre") {
		if containsAny(text, "cut", "trim", "style") {
			return SubtypeCutAndColor
		}
		return SubtypeColor
	}
	if containsAny(text, "keratin", "treatment", "conditioning", "repair") {
		return SubtypeTreatment
	}
	if containsAny(text, "blowout", "blow dry", "styling", "silk press") {
		return SubtypeStyling
	}
	if containsAny(text, "cut", "trim", "haircut", "bob", "pixie", "layers", "fade") {
		return SubtypeHaircut
	}
	return SubtypeUnknown
}

func detectHairType(text string) string {
	if m := hairCodeRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	switch {
	case containsAny(text, "coily", "coils", "kinky"):
		switch {
		case containsAny(text, "tight"):
			return "4C"
		case containsAny(text, "z-pattern"):
			return "4B"
		}
		return "4A"
	case containsAny(text, "curly", "curls"):
		switch {
		case containsAny(text, "tight", "corkscrew"):
			return "3C"
		case containsAny(text, "loose", "big"):
			return "3A"
		}
		return "3B"
	case containsAny(text, "wavy", "waves"):
		switch {
		case containsAny(text, "strong", "defined"):
			return "2C"
		case containsAny(text, "s-wave", "s wave"):
			return "2B"
		}
		return "2A"
	case containsAny(text, "straight"):
		switch {
		case containsAny(text, "fine", "thin"):
			return "1A"
		case containsAny(text, "coarse", "thick"):
			return "1C"
		}
		return "1B"
	}
	return ""
}

func detectTexture(text string) string {
	for _, t := range []string{"coily", "kinky", "curly", "wavy", "straight"} {
		if strings.Contains(text, t) {
			return t
		}
	}
	return ""
}

func detectLength(text string) string {
	switch {
	case containsAny(text, "waist length", "very long", "extra long"):
		return "extra_long"
	case containsAny(text, "long hair", "long length", "past my shoulders", "below the shoulders"):
		return "long"
	case containsAny(text, "shoulder length", "medium length", "mid-length"):
		return "medium"
	case containsAny(text, "short hair", "pixie", "buzz"):
		return "short"
	}
	return ""
}

func hairComplexity(subtype string, colors, treatments []string) string {
	switch {
	case subtype == SubtypeCutAndColor || len(colors) > 1:
		return ComplexityHigh
	case len(colors) > 0 || len(treatments) > 0:
		return ComplexityMedium
	case subtype == SubtypeColor || subtype == SubtypeTreatment:
		return ComplexityMedium
	}
	return ComplexityLow
}

func hairDuration(subtype string, colors, treatments []string) int {
	switch {
	case subtype == SubtypeCutAndColor:
		return 180
	case containsPhrase(colors, "color correction"):
		return 270
	case containsPhrase(colors, "full", "all-over"):
		return 150
	case len(colors) > 0 || subtype == SubtypeColor:
		return 120
	case len(treatments) > 0 || subtype == SubtypeTreatment:
		return 90
	}
	return 45
}

func containsPhrase(list []string, needles ...string) bool {
	for _, s := range list {
		if containsAny(s, needles...) {
			return true
		}
	}
	return false
}

func hairBudgetFeedback(b Budget, subtype string, colors, treatments []string) string {
	if b.Max <= 0 {
		return ""
	}
	switch {
	case subtype == SubtypeCutAndColor && b.Max < 150:
		return fmt.Sprintf("Your budget of $%.0f might be tight for cut and color. Many salons charge $150-300+ for this service.", b.Max)
	case (len(colors) > 0 || subtype == SubtypeColor) && b.Max < 100:
		return fmt.Sprintf("Color services typically start around $100-150. Your budget of $%.0f might limit options.", b.Max)
	case containsPhrase(treatments, "keratin") && b.Max < 200:
		return "Keratin treatments typically cost $200-400+. You may want to adjust your budget."
	}
	return ""
}
