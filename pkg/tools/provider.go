package tools

import (
	"context"
	"errors"

	"proxie/pkg/agent/llm"
	"proxie/pkg/logx"
	"proxie/pkg/marketplace"
	"proxie/pkg/suggest"
)

func providerID(ctx context.Context, args Args) string {
	if id := EnvFrom(ctx).ProviderID; id != "" {
		return id
	}
	return args.String("provider_id")
}

// GetMatchingRequestsTool lists the provider's open leads.
type GetMatchingRequestsTool struct {
	market marketplace.Marketplace
}

// NewGetMatchingRequestsTool creates the tool.
func NewGetMatchingRequestsTool(m marketplace.Marketplace) *GetMatchingRequestsTool {
	return &GetMatchingRequestsTool{market: m}
}

// Name implements Tool.
func (t *GetMatchingRequestsTool) Name() string { return ToolGetMatchingRequests }

// Definition implements Tool.
func (t *GetMatchingRequestsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetMatchingRequests,
		Description: "List all new and matching service requests (leads) for the provider.",
		Parameters: llm.Schema{
			Type:       "object",
			Properties: map[string]llm.Property{},
		},
	}
}

// Exec implements Tool.
func (t *GetMatchingRequestsTool) Exec(ctx context.Context, args Args) Result {
	id := providerID(ctx, args)
	if id == "" {
		return Fail("No provider ID available")
	}
	reqs, err := t.market.MatchingRequests(ctx, id)
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{"requests": objectsOf(reqs)})
}

// GetLeadDetailsTool returns one lead in full and marks it viewed.
type GetLeadDetailsTool struct {
	market marketplace.Marketplace
}

// NewGetLeadDetailsTool creates the tool.
func NewGetLeadDetailsTool(m marketplace.Marketplace) *GetLeadDetailsTool {
	return &GetLeadDetailsTool{market: m}
}

// Name implements Tool.
func (t *GetLeadDetailsTool) Name() string { return ToolGetLeadDetails }

// Definition implements Tool.
func (t *GetLeadDetailsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolGetLeadDetails,
		Description: "Get full details for a specific lead, including consumer photos, descriptions, and specialist analysis.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"request_id": {Type: "string", Description: "The lead/request ID"},
			},
			Required: []string{"request_id"},
		},
	}
}

// Exec implements Tool.
func (t *GetLeadDetailsTool) Exec(ctx context.Context, args Args) Result {
	reqID := args.String("request_id")
	req, err := t.market.GetRequest(ctx, reqID)
	if errors.Is(err, marketplace.ErrNotFound) {
		return Fail("Request not found")
	}
	if err != nil {
		return FailErr(err)
	}
	if pid := providerID(ctx, args); pid != "" {
		if _, err := t.market.MarkLeadViewed(ctx, pid, reqID); err != nil {
			logx.FromContext(ctx, "tools").Warn("failed to mark lead %s viewed: %v", reqID, err)
		}
	}
	return OK(objectOf(req))
}

// SuggestOfferTool recommends price, slots and message for a lead.
type SuggestOfferTool struct {
	market  marketplace.Marketplace
	suggest *suggest.Service
}

// NewSuggestOfferTool creates the tool.
func NewSuggestOfferTool(m marketplace.Marketplace, s *suggest.Service) *SuggestOfferTool {
	if s == nil {
		s = suggest.New()
	}
	return &SuggestOfferTool{market: m, suggest: s}
}

// Name implements Tool.
func (t *SuggestOfferTool) Name() string { return ToolSuggestOffer }

// Definition implements Tool.
func (t *SuggestOfferTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolSuggestOffer,
		Description: "Get AI suggestions for pricing, timing, and response message for a specific lead.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"request_id": {Type: "string", Description: "The lead ID"},
			},
			Required: []string{"request_id"},
		},
	}
}

// historyLimit bounds the past offers averaged into a base price.
const historyLimit = 20

// Exec implements Tool.
func (t *SuggestOfferTool) Exec(ctx context.Context, args Args) Result {
	req, err := t.market.GetRequest(ctx, args.String("request_id"))
	if errors.Is(err, marketplace.ErrNotFound) {
		return Fail("Request not found")
	}
	if err != nil {
		return FailErr(err)
	}
	in := suggest.Input{Request: req}
	if pid := providerID(ctx, args); pid != "" {
		if p, err := t.market.Provider(ctx, pid); err == nil {
			in.Provider = p
		}
		if past, err := t.market.ProviderOffers(ctx, pid, historyLimit); err == nil {
			for _, o := range past {
				if o.ServiceName == req.ServiceType {
					in.History = append(in.History, o.Price)
				}
			}
		}
	}
	s, err := t.suggest.Suggest(ctx, in)
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{"suggestion": objectOf(s)})
}

// DraftOfferTool stages an offer for provider review.
type DraftOfferTool struct{}

// NewDraftOfferTool creates the tool.
func NewDraftOfferTool() *DraftOfferTool { return &DraftOfferTool{} }

// Name implements Tool.
func (t *DraftOfferTool) Name() string { return ToolDraftOffer }

// Definition implements Tool.
func (t *DraftOfferTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolDraftOffer,
		Description: "Draft an offer for provider review. Use after 'suggest_offer' or when provider gives price/time.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"request_id": {Type: "string", Description: "The lead ID"},
				"price":      {Type: "number", Description: "Offered price"},
				"date":       {Type: "string", Description: "YYYY-MM-DD"},
				"time":       {Type: "string", Description: "HH:MM"},
				"message":    {Type: "string", Description: "Message to consumer"},
			},
			Required: []string{"request_id", "price"},
		},
	}
}

// Exec implements Tool.
func (t *DraftOfferTool) Exec(_ context.Context, args Args) Result {
	price, ok := args.Float("price")
	if !ok || price <= 0 {
		return Fail("price must be a positive number")
	}
	return OK(map[string]any{
		"status": "draft",
		"offer_draft": map[string]any{
			"request_id":     args.String("request_id"),
			"price":          price,
			"available_date": args.String("date"),
			"available_time": args.String("time"),
			"message":        args.String("message"),
		},
	})
}

// SubmitOfferTool sends an approved offer to the consumer.
type SubmitOfferTool struct {
	market marketplace.Marketplace
}

// NewSubmitOfferTool creates the tool.
func NewSubmitOfferTool(m marketplace.Marketplace) *SubmitOfferTool {
	return &SubmitOfferTool{market: m}
}

// Name implements Tool.
func (t *SubmitOfferTool) Name() string { return ToolSubmitOffer }

// Definition implements Tool.
func (t *SubmitOfferTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ToolSubmitOffer,
		Description: "Final submit of an offer AFTER provider has approved the draft.",
		Parameters: llm.Schema{
			Type: "object",
			Properties: map[string]llm.Property{
				"request_id": {Type: "string", Description: "The lead ID"},
				"price":      {Type: "number", Description: "Offered price"},
				"date":       {Type: "string", Description: "YYYY-MM-DD"},
				"time":       {Type: "string", Description: "HH:MM"},
				"message":    {Type: "string", Description: "Message to consumer"},
			},
			Required: []string{"request_id", "price"},
		},
	}
}

// Exec implements Tool.
func (t *SubmitOfferTool) Exec(ctx context.Context, args Args) Result {
	pid := providerID(ctx, args)
	if pid == "" {
		return Fail("No provider ID available")
	}
	price, ok := args.Float("price")
	if !ok {
		return Fail("price must be a number")
	}
	in := marketplace.NewOffer{
		RequestID:  args.String("request_id"),
		ProviderID: pid,
		Message:    args.String("message"),
		Price:      price,
	}
	if date := args.String("date"); date != "" {
		at := args.String("time")
		in.Slots = []marketplace.Slot{{Date: date, StartTime: at, EndTime: at}}
	}
	offer, err := t.market.SubmitOffer(ctx, in)
	if err != nil {
		return FailErr(err)
	}
	return OK(map[string]any{
		"offer_id":   offer.ID,
		"request_id": offer.RequestID,
		"price":      offer.Price,
		"status":     "submitted",
	})
}
