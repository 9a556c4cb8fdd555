package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"proxie/pkg/agent/llm"
	"proxie/pkg/marketplace"
	"proxie/pkg/utils"
)

// CreateServiceRequestTool posts an approved request draft.
type CreateServiceRequestTool struct {
	market marketplace.Marketplace
}

// NewCreateServiceRequestTool creates the tool.
func NewCreateServiceRequestTool(m marketplace.Marketplace) *CreateServiceRequestTool {
	return &CreateServiceRequestTool{market: m}
}

// Name implements Tool.
func (t *CreateServiceRequestTool) Name() string { return ToolCreateServiceRequest }

// Definition implements Tool.
func (t *CreateServiceRequestTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolCreateServiceRequest,
		Description: "Create a service request AFTER user has approved the draft. This posts the request to find providers.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"service_type":        {Type: "string", Description: "Type of service needed"},
				"service_category":    {Type: "string", Description: "Catalog category of the service"},
				"description":         {Type: "string", Description: "Detailed description of the request"},
				"location":            {Type: "string", Description: "City or area where service is needed"},
				"budget_min":          {Type: "number", Description: "Minimum budget in dollars"},
				"budget_max":          {Type: "number", Description: "Maximum budget in dollars"},
				"timing":              {Type: "string", Description: "When the service is needed"},
				"preferred_date":      {Type: "string", Description: "Preferred date in YYYY-MM-DD format"},
				"hair_type":           {Type: "string", Description: "Hair type if hair service (e.g., '3B curly')"},
				"style_preferences":   {Type: "string", Description: "Style preferences if relevant"},
				"details":             {Type: "object", Description: "Additional structured details"},
				"media":               {Type: "array", Items: &llm.Property{Type: "string"}, Description: "URLs of attached photos or videos"},
				"specialist_analysis": {Type: "object", Description: "Specialist analysis attached to the draft"},
			},
			Required: []string{"service_type", "location"},
		},
	}
}

// Exec implements Tool.
func (t *CreateServiceRequestTool) Exec(ctx context.Context, args Args) Result {
	env := EnvFrom(ctx)

	description := args.String("description")
	if description == "" {
		description = args.String("service_type")
	}
	if hair := args.String("hair_type"); hair != "" {
		description += fmt.Sprintf(" Hair type: %s.", hair)
	}
	if style := args.String("style_preferences"); style != "" {
		description += fmt.Sprintf(" Style: %s.", style)
	}

	in := marketplace.NewRequest{
		Details:         args.Object("details"),
		Analysis:        args.Object("specialist_analysis"),
		ConsumerID:      env.ConsumerID,
		ServiceType:     args.String("service_type"),
		ServiceCategory: args.String("service_category"),
		Description:     strings.TrimSpace(description),
		Location:        args.String("location"),
		Timing:          args.String("timing"),
		PreferredDate:   args.String("preferred_date"),
		Media:           utils.Strings(args["media"]),
	}
	if in.ServiceCategory == "" {
		in.ServiceCategory = in.ServiceType
	}
	in.Budget.Min, _ = args.Float("budget_min")
	in.Budget.Max, _ = args.Float("budget_max")

	req, err := t.market.CreateRequest(ctx, in)
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
		"message":    fmt.Sprintf("Request created. Providers offering %s in %s can now send offers.", req.ServiceType, req.Location),
	})
}

// GetOffersTool lists the offers on a request.
type GetOffersTool struct {
	market marketplace.Marketplace
}

// NewGetOffersTool creates the tool.
func NewGetOffersTool(m marketplace.Marketplace) *GetOffersTool {
	return &GetOffersTool{market: m}
}

// Name implements Tool.
func (t *GetOffersTool) Name() string { return ToolGetOffers }

// Definition implements Tool.
func (t *GetOffersTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetOffers,
		Description: "Get offers from providers for a service request. Defaults to the request posted in this conversation.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"request_id": {Type: "string", Description: "The service request ID"},
			},
		},
	}
}

// Exec implements Tool.
func (t *GetOffersTool) Exec(ctx context.Context, args Args) Result {
	id := args.String("request_id")
	if id == "" {
		id = EnvFrom(ctx).RequestID
	}
	if id == "" {
		return Fail("No request ID available")
	}
	offers, err := t.market.Offers(ctx, id)
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{"offers": objectsOf(offers)})
}

// AcceptOfferTool books an offer at a chosen slot.
type AcceptOfferTool struct {
	market marketplace.Marketplace
}

// NewAcceptOfferTool creates the tool.
func NewAcceptOfferTool(m marketplace.Marketplace) *AcceptOfferTool {
	return &AcceptOfferTool{market: m}
}

// Name implements Tool.
func (t *AcceptOfferTool) Name() string { return ToolAcceptOffer }

// Definition implements Tool.
func (t *AcceptOfferTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolAcceptOffer,
		Description: "Accept an offer and create a confirmed booking. Only call after user explicitly confirms.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"offer_id":        {Type: "string", Description: "The offer ID to accept"},
				"slot_date":       {Type: "string", Description: "Selected date in YYYY-MM-DD format"},
				"slot_start_time": {Type: "string", Description: "Selected time in HH:MM format"},
			},
			Required: []string{"offer_id", "slot_date", "slot_start_time"},
		},
	}
}

// Exec implements Tool.
func (t *AcceptOfferTool) Exec(ctx context.Context, args Args) Result {
	booking, err := t.market.AcceptOffer(ctx, args.String("offer_id"), marketplace.Slot{
		Date:      args.String("slot_date"),
		StartTime: args.String("slot_start_time"),
	})
	if err != nil {
		return FailErr(err)
	}
	return OK(objectOf(booking))
}

// preferenceFields are the arguments update_preferences stores.
//
//nolint:gochecknoglobals // static field list
var preferenceFields = []string{"budget_min", "budget_max", "timing", "communication_style", "location"}

// UpdatePreferencesTool saves standing consumer preferences.
type UpdatePreferencesTool struct {
	market marketplace.Marketplace
}

// NewUpdatePreferencesTool creates the tool.
func NewUpdatePreferencesTool(m marketplace.Marketplace) *UpdatePreferencesTool {
	return &UpdatePreferencesTool{market: m}
}

// Name implements Tool.
func (t *UpdatePreferencesTool) Name() string { return ToolUpdatePreferences }

// Definition implements Tool.
func (t *UpdatePreferencesTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolUpdatePreferences,
		Description: "Save the consumer's standing preferences (budget, timing, location, communication style) for future requests.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"budget_min":          {Type: "number", Description: "Usual minimum budget in dollars"},
				"budget_max":          {Type: "number", Description: "Usual maximum budget in dollars"},
				"timing":              {Type: "string", Description: "Usual timing preference"},
				"communication_style": {Type: "string", Description: "How the consumer likes to be addressed"},
				"location":            {Type: "string", Description: "Usual service location"},
				"preferences":         {Type: "object", Description: "Other preferences, such as hair_type"},
			},
		},
	}
}

// Exec implements Tool.
func (t *UpdatePreferencesTool) Exec(ctx context.Context, args Args) Result {
	prefs := make(map[string]any)
	for _, key := range preferenceFields {
		if args.Has(key) {
			prefs[key] = args[key]
		}
	}
	for k, v := range args.Object("preferences") {
		prefs[k] = v
	}
	if len(prefs) == 0 {
		return Fail("No preferences provided")
	}
	fields := sortedKeys(prefs)

	id := EnvFrom(ctx).ConsumerID
	if id == "" {
		return OK(map[string]any{"status": "success", "updated_fields": fields, "saved": false})
	}
	if _, err := t.market.UpdateConsumer(ctx, id, marketplace.ConsumerUpdate{Preferences: prefs}); err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{"status": "success", "updated_fields": fields, "saved": true})
}

// requestDetailFields are the arguments update_request_details accepts.
//
//nolint:gochecknoglobals // static field list
var requestDetailFields = []string{
	"service_type", "description", "location", "address", "city",
	"budget_min", "budget_max", "timing", "preferred_date", "preferred_time",
}

// UpdateRequestDetailsTool records request details stated in conversation.
// It validates and echoes them; the orchestrator folds them into context.
type UpdateRequestDetailsTool struct{}

// NewUpdateRequestDetailsTool creates the tool.
func NewUpdateRequestDetailsTool() *UpdateRequestDetailsTool {
	return &UpdateRequestDetailsTool{}
}

// Name implements Tool.
func (t *UpdateRequestDetailsTool) Name() string { return ToolUpdateRequestDetails }

// Definition implements Tool.
func (t *UpdateRequestDetailsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolUpdateRequestDetails,
		Description: "Record details of the request being drafted as the user provides them.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"service_type":   {Type: "string"},
				"description":    {Type: "string"},
				"location":       {Type: "string"},
				"address":        {Type: "string"},
				"city":           {Type: "string"},
				"budget":         {Type: "string", Description: "Free-form budget hint, e.g. 'around $80'"},
				"budget_min":     {Type: "number"},
				"budget_max":     {Type: "number"},
				"timing":         {Type: "string"},
				"preferred_date": {Type: "string", Description: "YYYY-MM-DD"},
				"preferred_time": {Type: "string", Description: "HH:MM"},
				"preferences":    {Type: "object", Description: "Service-specific preferences"},
			},
		},
	}
}

// Exec implements Tool.
func (t *UpdateRequestDetailsTool) Exec(_ context.Context, args Args) Result {
	details := make(map[string]any)
	for _, key := range requestDetailFields {
		if args.Has(key) {
			details[key] = args[key]
		}
	}
	if hint := args.String("budget"); hint != "" {
		if f, ok := utils.Float(hint); ok && !args.Has("budget_max") {
			details["budget_max"] = f
		}
	}
	if prefs := args.Object("preferences"); len(prefs) > 0 {
		details["preferences"] = prefs
	}
	if len(details) == 0 {
		return Fail("No request details provided")
	}
	if lo, okLo := utils.Float(details["budget_min"]); okLo {
		if hi, okHi := utils.Float(details["budget_max"]); okHi && lo > hi {
			return Fail("budget_min %.2f exceeds budget_max %.2f", lo, hi)
		}
	}
	return OK(map[string]any{"status": "success", "updated_fields": sortedKeys(details), "details": details})
}

// GetConsumerProfileTool reads the consumer profile.
type GetConsumerProfileTool struct {
	market marketplace.Marketplace
}

// NewGetConsumerProfileTool creates the tool.
func NewGetConsumerProfileTool(m marketplace.Marketplace) *GetConsumerProfileTool {
	return &GetConsumerProfileTool{market: m}
}

// Name implements Tool.
func (t *GetConsumerProfileTool) Name() string { return ToolGetConsumerProfile }

// Definition implements Tool.
func (t *GetConsumerProfileTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetConsumerProfile,
		Description: "Get the consumer's profile information, including their default location and preferences.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"consumer_id": {Type: "string", Description: "The consumer ID; defaults to the signed-in consumer"},
			},
		},
	}
}

// Exec implements Tool.
func (t *GetConsumerProfileTool) Exec(ctx context.Context, args Args) Result {
	id := EnvFrom(ctx).ConsumerID
	if id == "" {
		id = args.String("consumer_id")
	}
	if id == "" {
		return Fail("No identity available")
	}
	c, err := t.market.Consumer(ctx, id)
	if errors.Is(err, marketplace.ErrNotFound) {
		return Fail("Consumer not found")
	}
	if err != nil {
		return FailErr(err)
	}
	return OK(objectOf(c))
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
