package tools

import (
	"context"
	"errors"

	"proxie/pkg/agent/llm"
	"proxie/pkg/marketplace"
)

func enrollmentID(ctx context.Context) string { return EnvFrom(ctx).EnrollmentID }

// GetServiceCatalogTool lists the platform's service categories.
type GetServiceCatalogTool struct {
	market marketplace.Marketplace
}

// NewGetServiceCatalogTool creates the tool.
func NewGetServiceCatalogTool(m marketplace.Marketplace) *GetServiceCatalogTool {
	return &GetServiceCatalogTool{market: m}
}

// Name implements Tool.
func (t *GetServiceCatalogTool) Name() string { return ToolGetServiceCatalog }

// Definition implements Tool.
func (t *GetServiceCatalogTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetServiceCatalog,
		Description: "Get the list of service categories and services available on the platform. Use category_filter to show only categories relevant to the provider's profession.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"category_filter": {Type: "string", Description: "Optional filter such as 'hair', 'cleaning' or 'plumbing'"},
			},
		},
	}
}

// Exec implements Tool.
func (t *GetServiceCatalogTool) Exec(_ context.Context, args Args) Result {
	cat := t.market.Catalog()
	if cat == nil {
		return Fail("Service catalog unavailable")
	}
	return OK(map[string]any{"categories": objectsOf(cat.Filter(args.String("category_filter")))})
}

// enrollmentFields are the fields update_enrollment accepts.
//
//nolint:gochecknoglobals // static field list
var enrollmentFields = []string{
	"full_name", "business_name", "email", "phone", "location",
	"services", "availability", "bio", "years_experience", "service_radius", "portfolio",
}

// UpdateEnrollmentTool saves enrollment data as it is collected.
type UpdateEnrollmentTool struct {
	market marketplace.Marketplace
}

// NewUpdateEnrollmentTool creates the tool.
func NewUpdateEnrollmentTool(m marketplace.Marketplace) *UpdateEnrollmentTool {
	return &UpdateEnrollmentTool{market: m}
}

// Name implements Tool.
func (t *UpdateEnrollmentTool) Name() string { return ToolUpdateEnrollment }

// Definition implements Tool.
func (t *UpdateEnrollmentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolUpdateEnrollment,
		Description: "Update provider enrollment data (profile, location, services, etc.) as it's collected.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"full_name":        {Type: "string"},
				"business_name":    {Type: "string"},
				"email":            {Type: "string"},
				"phone":            {Type: "string"},
				"location":         {Type: "object", Description: "City, address, radius, etc."},
				"services":         {Type: "array", Items: &llm.Property{Type: "object"}, Description: "List of services with service_id, price_min, price_max"},
				"availability":     {Type: "object", Description: "Weekly schedule"},
				"bio":              {Type: "string"},
				"years_experience": {Type: "number"},
				"service_radius":   {Type: "number", Description: "Travel radius in miles"},
				"portfolio":        {Type: "array", Items: &llm.Property{Type: "string"}, Description: "Portfolio photo URLs"},
			},
		},
	}
}

// Exec implements Tool.
func (t *UpdateEnrollmentTool) Exec(ctx context.Context, args Args) Result {
	id := enrollmentID(ctx)
	if id == "" {
		return Fail("No enrollment session active")
	}
	fields := make(map[string]any)
	for _, key := range enrollmentFields {
		if args.Has(key) {
			fields[key] = args[key]
		}
	}
	if len(fields) == 0 {
		return Fail("No enrollment fields provided")
	}
	updated, err := t.market.UpdateEnrollment(ctx, id, fields)
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{"status": "success", "updated_fields": updated})
}

// GetEnrollmentSummaryTool returns the enrollment for review.
type GetEnrollmentSummaryTool struct {
	market marketplace.Marketplace
}

// NewGetEnrollmentSummaryTool creates the tool.
func NewGetEnrollmentSummaryTool(m marketplace.Marketplace) *GetEnrollmentSummaryTool {
	return &GetEnrollmentSummaryTool{market: m}
}

// Name implements Tool.
func (t *GetEnrollmentSummaryTool) Name() string { return ToolGetEnrollmentSummary }

// Definition implements Tool.
func (t *GetEnrollmentSummaryTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetEnrollmentSummary,
		Description: "Get the current enrollment summary for review.",
		Parameters:  llm.Schema{Type: "object", Properties: map[string]llm.Property{}},
	}
}

// Exec implements Tool.
func (t *GetEnrollmentSummaryTool) Exec(ctx context.Context, _ Args) Result {
	id := enrollmentID(ctx)
	if id == "" {
		return Fail("No enrollment session active")
	}
	e, err := t.market.Enrollment(ctx, id)
	if errors.Is(err, marketplace.ErrNotFound) {
		return Fail("Enrollment not found")
	}
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{"enrollment_id": e.ID, "status": e.Status, "data": e.Data})
}

// RequestPortfolioTool asks the client to show the portfolio uploader.
type RequestPortfolioTool struct{}

// NewRequestPortfolioTool creates the tool.
func NewRequestPortfolioTool() *RequestPortfolioTool { return &RequestPortfolioTool{} }

// Name implements Tool.
func (t *RequestPortfolioTool) Name() string { return ToolRequestPortfolio }

// Definition implements Tool.
func (t *RequestPortfolioTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolRequestPortfolio,
		Description: "Trigger the portfolio upload interface for the provider.",
		Parameters:  llm.Schema{Type: "object", Properties: map[string]llm.Property{}},
	}
}

// Exec implements Tool.
func (t *RequestPortfolioTool) Exec(context.Context, Args) Result {
	return OK(map[string]any{"show_portfolio": true})
}

// SubmitEnrollmentTool finalizes the enrollment for verification.
type SubmitEnrollmentTool struct {
	market marketplace.Marketplace
}

// NewSubmitEnrollmentTool creates the tool.
func NewSubmitEnrollmentTool(m marketplace.Marketplace) *SubmitEnrollmentTool {
	return &SubmitEnrollmentTool{market: m}
}

// Name implements Tool.
func (t *SubmitEnrollmentTool) Name() string { return ToolSubmitEnrollment }

// Definition implements Tool.
func (t *SubmitEnrollmentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolSubmitEnrollment,
		Description: "Finalize and submit the enrollment for verification. Only call after user review.",
		Parameters:  llm.Schema{Type: "object", Properties: map[string]llm.Property{}},
	}
}

// Exec implements Tool.
func (t *SubmitEnrollmentTool) Exec(ctx context.Context, _ Args) Result {
	id := enrollmentID(ctx)
	if id == "" {
		return Fail("No enrollment session active")
	}
	res, err := t.market.SubmitEnrollment(ctx, id)
	if errors.Is(err, marketplace.ErrNotFound) {
		return Fail("Enrollment not found")
	}
	if err != nil {
		return FailErr(err)
	}
	return OK(objectOf(res))
}
