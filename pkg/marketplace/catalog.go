package marketplace

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

//go:embed catalog.jsonc
var catalogJSONC []byte

// CatalogService is one bookable service of a category.
type CatalogService struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	PriceMin        float64 `json:"price_min"`
	PriceMax        float64 `json:"price_max"`
	DurationMinutes int     `json:"duration_minutes"`
	RequiresLicense bool    `json:"requires_license,omitempty"`
}

// Category groups catalog services.
type Category struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Services    []CatalogService `json:"services"`
}

// Catalog is the platform service catalog.
type Catalog struct {
	Categories []Category `json:"categories"`
}

// categoryAliases widens short filter terms to the category names they mean.
//
//nolint:gochecknoglobals // static lookup
var categoryAliases = map[string][]string{
	"hair":        {"hair & beauty", "beauty", "salon"},
	"cleaning":    {"cleaning", "housekeeping"},
	"plumbing":    {"plumbing", "home repair", "handyman"},
	"electrical":  {"electrical", "home repair", "handyman"},
	"photography": {"photography", "media"},
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(catalogJSONC)
}

// ParseCatalog decodes a JSON catalog; comments and trailing commas are
// allowed.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(jsonc.ToJSON(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse service catalog: %w", err)
	}
	return &c, nil
}

// Filter returns the categories whose names match filter. An empty filter,
// or one matching nothing, returns every category.
func (c *Catalog) Filter(filter string) []Category {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return c.Categories
	}
	terms, ok := categoryAliases[filter]
	if !ok {
		terms = []string{filter}
	}
	var out []Category
	for i := range c.Categories {
		name := strings.ToLower(c.Categories[i].Name)
		for _, term := range terms {
			if strings.Contains(name, term) {
				out = append(out, c.Categories[i])
				break
			}
		}
	}
	if len(out) == 0 {
		return c.Categories
	}
	return out
}

// Service looks up a service by id along with its category.
func (c *Catalog) Service(id string) (*CatalogService, *Category, bool) {
	for i := range c.Categories {
		cat := &c.Categories[i]
		for j := range cat.Services {
			if cat.Services[j].ID == id {
				return &cat.Services[j], cat, true
			}
		}
	}
	return nil, nil, false
}
