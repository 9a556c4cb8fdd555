package tools

import "proxie/pkg/session"

// Tool name constants - use these instead of magic strings.
const (
	// Consumer tools.
	ToolCreateServiceRequest = "create_service_request"
	ToolGetOffers            = "get_offers"
	ToolAcceptOffer          = "accept_offer"
	ToolUpdatePreferences    = "update_preferences"
	ToolUpdateRequestDetails = "update_request_details"
	ToolGetConsumerProfile   = "get_consumer_profile"

	// Provider tools.
	ToolGetMatchingRequests = "get_matching_requests"
	ToolGetLeadDetails      = "get_lead_details"
	ToolSuggestOffer        = "suggest_offer"
	ToolDraftOffer          = "draft_offer"
	ToolSubmitOffer         = "submit_offer"

	// Enrollment tools.
	ToolGetServiceCatalog    = "get_service_catalog"
	ToolUpdateEnrollment     = "update_enrollment"
	ToolGetEnrollmentSummary = "get_enrollment_summary"
	ToolRequestPortfolio     = "request_portfolio"
	ToolSubmitEnrollment     = "submit_enrollment"
)

// Role-specific tool availability.
//
//nolint:gochecknoglobals // static tool sets
var (
	ConsumerTools = []string{
		ToolCreateServiceRequest,
		ToolGetOffers,
		ToolAcceptOffer,
		ToolUpdatePreferences,
		ToolUpdateRequestDetails,
		ToolGetConsumerProfile,
	}

	ProviderTools = []string{
		ToolGetMatchingRequests,
		ToolGetLeadDetails,
		ToolSuggestOffer,
		ToolDraftOffer,
		ToolSubmitOffer,
	}

	EnrollmentTools = []string{
		ToolGetServiceCatalog,
		ToolUpdateEnrollment,
		ToolGetEnrollmentSummary,
		ToolRequestPortfolio,
		ToolSubmitEnrollment,
	}
)

// ToolsForRole returns the tool names exposed to role. Guests share the
// consumer set.
func ToolsForRole(role session.Role) []string {
	switch role {
	case session.RoleProvider:
		return ProviderTools
	case session.RoleEnrollment:
		return EnrollmentTools
	case session.RoleConsumer, session.RoleGuest:
		return ConsumerTools
	}
	return nil
}
