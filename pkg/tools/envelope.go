package tools

// UI hints attached to turn data.
const (
	HintCompareOffers      = "compare_offers"
	HintRequestCreated     = "request_created"
	HintBookingConfirmed   = "booking_confirmed"
	HintShowLeads          = "show_leads"
	HintOfferHelper        = "offer_helper"
	HintServiceSelector    = "service_selector"
	HintEnrollmentSummary  = "enrollment_summary"
	HintPortfolioUploader  = "portfolio_uploader"
	HintEnrollmentComplete = "enrollment_complete"
	HintOfferReview        = "offer_review"
	HintOfferSubmitted     = "offer_submitted"
)

// Envelope accumulates the structured data of one turn's tool results.
// Later results overwrite earlier ones for the same key.
type Envelope struct {
	data map[string]any
}

// NewEnvelope creates an empty envelope.
func NewEnvelope() *Envelope {
	return &Envelope{data: make(map[string]any)}
}

func (e *Envelope) set(key string, value any, hint string) {
	e.data[key] = value
	if hint != "" {
		e.data["ui_hint"] = hint
	}
}

// Add promotes the keys of a successful result of tool name. Error results
// contribute nothing.
func (e *Envelope) Add(name string, res Result) {
	if !res.IsOK() {
		return
	}
	v := res.Value()
	switch name {
	case ToolGetOffers:
		e.set("offers", listOf(v["offers"]), HintCompareOffers)
	case ToolGetConsumerProfile:
		e.set("consumer_profile", v, "")
	case ToolCreateServiceRequest:
		e.set("request_id", v["request_id"], HintRequestCreated)
	case ToolAcceptOffer:
		if _, ok := v["booking_id"]; ok {
			e.set("booking", v, HintBookingConfirmed)
		}
	case ToolGetMatchingRequests:
		e.set("requests", listOf(v["requests"]), HintShowLeads)
	case ToolGetLeadDetails:
		e.set("lead", v, "")
	case ToolSuggestOffer:
		e.set("suggestion", v["suggestion"], HintOfferHelper)
	case ToolGetServiceCatalog:
		e.set("categories", listOf(v["categories"]), HintServiceSelector)
	case ToolUpdateEnrollment:
		e.set("enrollment_updated", true, "")
	case ToolGetEnrollmentSummary:
		e.set("enrollment_summary", v, HintEnrollmentSummary)
	case ToolRequestPortfolio:
		e.set("show_portfolio", true, HintPortfolioUploader)
	case ToolSubmitEnrollment:
		e.set("enrollment_result", v, HintEnrollmentComplete)
	case ToolDraftOffer:
		e.set("offer_draft", v["offer_draft"], HintOfferReview)
	case ToolSubmitOffer:
		e.set("offer", v, HintOfferSubmitted)
	}
}

// Set stores a value directly, as Add does for tool results.
func (e *Envelope) Set(key string, value any) {
	e.data[key] = value
}

// Data returns the accumulated data, nil when nothing was promoted.
func (e *Envelope) Data() map[string]any {
	if len(e.data) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

func listOf(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{}
}
