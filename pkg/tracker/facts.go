package tracker

import (
	"math"
	"strconv"
	"strings"

	"proxie/pkg/utils"
)

// Facts is the typed context record. Zero values mean absent.
type Facts struct {
	Preferences map[string]any `json:"preferences,omitempty"`

	// identity
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	DefaultLocation string `json:"default_location,omitempty"`

	// request details
	ServiceType   string   `json:"service_type,omitempty"`
	Location      string   `json:"location,omitempty"`
	Address       string   `json:"address,omitempty"`
	City          string   `json:"city,omitempty"`
	BudgetMin     *float64 `json:"budget_min,omitempty"`
	BudgetMax     *float64 `json:"budget_max,omitempty"`
	Timing        string   `json:"timing,omitempty"`
	PreferredDate string   `json:"preferred_date,omitempty"`
	PreferredTime string   `json:"preferred_time,omitempty"`

	// booking and offer
	ProviderID    string   `json:"provider_id,omitempty"`
	RequestID     string   `json:"request_id,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	AvailableDate string   `json:"available_date,omitempty"`
	AvailableTime string   `json:"available_time,omitempty"`

	// enrollment
	BusinessName    string   `json:"business_name,omitempty"`
	YearsExperience *int     `json:"years_experience,omitempty"`
	ServicesOffered []string `json:"services_offered,omitempty"`
	ServiceRadius   *int     `json:"service_radius,omitempty"`
	PortfolioPhotos []string `json:"portfolio_photos,omitempty"`
	Bio             string   `json:"bio,omitempty"`
}

// Fact keys.
const (
	KeyName            = "name"
	KeyEmail           = "email"
	KeyPhone           = "phone"
	KeyDefaultLocation = "default_location"
	KeyServiceType     = "service_type"
	KeyLocation        = "location"
	KeyAddress         = "address"
	KeyCity            = "city"
	KeyBudgetMin       = "budget_min"
	KeyBudgetMax       = "budget_max"
	KeyTiming          = "timing"
	KeyPreferredDate   = "preferred_date"
	KeyPreferredTime   = "preferred_time"
	KeyPreferences     = "preferences"
	KeyProviderID      = "provider_id"
	KeyRequestID       = "request_id"
	KeyPrice           = "price"
	KeyAvailableDate   = "available_date"
	KeyAvailableTime   = "available_time"
	KeyBusinessName    = "business_name"
	KeyYearsExperience = "years_experience"
	KeyServicesOffered = "services_offered"
	KeyServiceRadius   = "service_radius"
	KeyPortfolioPhotos = "portfolio_photos"
	KeyBio             = "bio"
)

// Keys lists every fact key in display order.
//
//nolint:gochecknoglobals // static key order
var Keys = []string{
	KeyName, KeyEmail, KeyPhone, KeyDefaultLocation,
	KeyServiceType, KeyLocation, KeyAddress, KeyCity, KeyBudgetMin, KeyBudgetMax,
	KeyTiming, KeyPreferredDate, KeyPreferredTime, KeyPreferences,
	KeyProviderID, KeyRequestID, KeyPrice, KeyAvailableDate, KeyAvailableTime,
	KeyBusinessName, KeyYearsExperience, KeyServicesOffered, KeyServiceRadius, KeyPortfolioPhotos, KeyBio,
}

// RequestKeys is the request facet cleared when a request is cancelled.
//
//nolint:gochecknoglobals // static key set
var RequestKeys = []string{
	KeyServiceType, KeyLocation, KeyAddress, KeyCity, KeyBudgetMin, KeyBudgetMax,
	KeyTiming, KeyPreferredDate, KeyPreferredTime, KeyPreferences,
}

func (f *Facts) stringField(key string) *string {
	switch key {
	case KeyName:
		return &f.Name
	case KeyEmail:
		return &f.Email
	case KeyPhone:
		return &f.Phone
	case KeyDefaultLocation:
		return &f.DefaultLocation
	case KeyServiceType:
		return &f.ServiceType
	case KeyLocation:
		return &f.Location
	case KeyAddress:
		return &f.Address
	case KeyCity:
		return &f.City
	case KeyTiming:
		return &f.Timing
	case KeyPreferredDate:
		return &f.PreferredDate
	case KeyPreferredTime:
		return &f.PreferredTime
	case KeyProviderID:
		return &f.ProviderID
	case KeyRequestID:
		return &f.RequestID
	case KeyAvailableDate:
		return &f.AvailableDate
	case KeyAvailableTime:
		return &f.AvailableTime
	case KeyBusinessName:
		return &f.BusinessName
	case KeyBio:
		return &f.Bio
	}
	return nil
}

func (f *Facts) floatField(key string) **float64 {
	switch key {
	case KeyBudgetMin:
		return &f.BudgetMin
	case KeyBudgetMax:
		return &f.BudgetMax
	case KeyPrice:
		return &f.Price
	}
	return nil
}

func (f *Facts) intField(key string) **int {
	switch key {
	case KeyYearsExperience:
		return &f.YearsExperience
	case KeyServiceRadius:
		return &f.ServiceRadius
	}
	return nil
}

func (f *Facts) listField(key string) *[]string {
	switch key {
	case KeyServicesOffered:
		return &f.ServicesOffered
	case KeyPortfolioPhotos:
		return &f.PortfolioPhotos
	}
	return nil
}

// Known reports whether key is a fact key.
func Known(key string) bool {
	var f Facts
	return key == KeyPreferences || f.stringField(key) != nil || f.floatField(key) != nil ||
		f.intField(key) != nil || f.listField(key) != nil
}

// Get returns the stored value of key in JSON-native form.
func (f *Facts) Get(key string) (any, bool) {
	if key == KeyPreferences {
		if len(f.Preferences) == 0 {
			return nil, false
		}
		return f.Preferences, true
	}
	if p := f.stringField(key); p != nil {
		return *p, *p != ""
	}
	if p := f.floatField(key); p != nil {
		if *p == nil {
			return nil, false
		}
		return **p, true
	}
	if p := f.intField(key); p != nil {
		if *p == nil {
			return nil, false
		}
		return **p, true
	}
	if p := f.listField(key); p != nil {
		return *p, len(*p) > 0
	}
	return nil, false
}

// Has reports whether key holds a non-empty value.
func (f *Facts) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// clear makes key absent.
func (f *Facts) clear(key string) {
	if key == KeyPreferences {
		f.Preferences = nil
		return
	}
	if p := f.stringField(key); p != nil {
		*p = ""
	}
	if p := f.floatField(key); p != nil {
		*p = nil
	}
	if p := f.intField(key); p != nil {
		*p = nil
	}
	if p := f.listField(key); p != nil {
		*p = nil
	}
}

// normalize coerces raw into the stored type of key. ok is false when the
// value is empty or cannot be coerced.
func normalize(key string, raw any) (any, bool) {
	var f Facts
	switch {
	case f.stringField(key) != nil:
		s := toString(raw)
		return s, s != ""
	case f.floatField(key) != nil:
		v, ok := utils.Float(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		return v, true
	case f.intField(key) != nil:
		v, ok := utils.Float(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		return int(math.Round(v)), true
	case f.listField(key) != nil:
		list := utils.Strings(raw)
		return list, len(list) > 0
	}
	return nil, false
}

// assign stores an already normalized value.
func (f *Facts) assign(key string, v any) {
	if p := f.stringField(key); p != nil {
		*p, _ = v.(string)
		return
	}
	if p := f.floatField(key); p != nil {
		n, _ := v.(float64)
		*p = &n
		return
	}
	if p := f.intField(key); p != nil {
		n, _ := v.(int)
		*p = &n
		return
	}
	if p := f.listField(key); p != nil {
		list, _ := v.([]string)
		*p = append([]string(nil), list...)
	}
}

func toString(raw any) string {
	switch t := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		// {"city": "..."} style locations
		for _, k := range []string{"city", "address", "name"} {
			if s := utils.String(t, k); s != "" {
				return s
			}
		}
	}
	return ""
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
