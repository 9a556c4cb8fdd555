package tools

import (
	"proxie/pkg/marketplace"
	"proxie/pkg/suggest"
)

// NewDefaultRegistry registers every marketplace tool against market.
func NewDefaultRegistry(market marketplace.Marketplace, suggester *suggest.Service) (*Registry, error) {
	r := NewRegistry()
	for _, tool := range []Tool{
		NewCreateServiceRequestTool(market),
		NewGetOffersTool(market),
		NewAcceptOfferTool(market),
		NewUpdatePreferencesTool(market),
		NewUpdateRequestDetailsTool(),
		NewGetConsumerProfileTool(market),
		NewGetMatchingRequestsTool(market),
		NewGetLeadDetailsTool(market),
		NewSuggestOfferTool(market, suggester),
		NewDraftOfferTool(),
		NewSubmitOfferTool(market),
		NewGetServiceCatalogTool(market),
		NewUpdateEnrollmentTool(market),
		NewGetEnrollmentSummaryTool(market),
		NewRequestPortfolioTool(),
		NewSubmitEnrollmentTool(market),
	} {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}
