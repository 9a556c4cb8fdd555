// Package marketplace is the collaborator the agent runtime posts requests,
// offers, bookings and enrollments to. The in-memory implementation backs
// local runs and tests; a relational store would satisfy the same interface.
package marketplace

import (
	"context"
	"errors"
	"time"
)

// Errors returned by marketplace operations.
var (
	ErrNotFound        = errors.New("not found")
	ErrOfferClosed     = errors.New("offer is no longer pending")
	ErrSlotUnavailable = errors.New("selected slot is not available")
	ErrInvalid         = errors.New("invalid input")
)

// Request statuses.
const (
	StatusMatching = "matching"
	StatusBooked   = "booked"
)

// Offer statuses.
const (
	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferDeclined = "declined"
)

// Enrollment statuses.
const (
	EnrollmentDraft               = "draft"
	EnrollmentPending             = "pending"
	EnrollmentPendingVerification = "pending_verification"
	EnrollmentActive              = "active"
)

// Budget is a price range in dollars.
type Budget struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Slot is a proposed or selected appointment time.
type Slot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`
}

// Request is a posted service request.
type Request struct {
	CreatedAt       time.Time      `json:"created_at"`
	Details         map[string]any `json:"details,omitempty"`
	Analysis        map[string]any `json:"specialist_analysis,omitempty"`
	ID              string         `json:"id"`
	ConsumerID      string         `json:"consumer_id,omitempty"`
	ServiceType     string         `json:"service_type"`
	ServiceCategory string         `json:"service_category,omitempty"`
	Description     string         `json:"description,omitempty"`
	Location        string         `json:"location"`
	Timing          string         `json:"timing,omitempty"`
	PreferredDate   string         `json:"preferred_date,omitempty"`
	Status          string         `json:"status"`
	Media           []string       `json:"media,omitempty"`
	Budget          Budget         `json:"budget"`
}

// NewRequest is the input of CreateRequest.
type NewRequest struct {
	Details         map[string]any
	Analysis        map[string]any
	ConsumerID      string
	ServiceType     string
	ServiceCategory string
	Description     string
	Location        string
	Timing          string
	PreferredDate   string
	Media           []string
	Budget          Budget
}

// Offer is a provider's priced response to a request.
type Offer struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"offer_id"`
	RequestID   string    `json:"request_id"`
	ProviderID  string    `json:"provider_id"`
	ServiceName string    `json:"service_name,omitempty"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"`
	Slots       []Slot    `json:"available_slots,omitempty"`
	Price       float64   `json:"price"`
}

// NewOffer is the input of SubmitOffer.
type NewOffer struct {
	RequestID  string
	ProviderID string
	Message    string
	Slots      []Slot
	Price      float64
}

// Booking is a confirmed appointment.
type Booking struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"booking_id"`
	OfferID     string    `json:"offer_id"`
	RequestID   string    `json:"request_id"`
	ConsumerID  string    `json:"consumer_id,omitempty"`
	ProviderID  string    `json:"provider_id"`
	ServiceType string    `json:"service_type,omitempty"`
	Status      string    `json:"status"`
	Slot        Slot      `json:"slot"`
	Price       float64   `json:"price"`
}

// ProviderService is a service a provider offers at a base price.
type ProviderService struct {
	Type      string  `json:"type"`
	BasePrice float64 `json:"base_price"`
}

// Provider is an active provider profile.
type Provider struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Status          string            `json:"status"`
	Specializations []string          `json:"specializations,omitempty"`
	Services        []ProviderService `json:"services,omitempty"`
	BasePrice       float64           `json:"base_price,omitempty"`
	Rating          float64           `json:"rating,omitempty"`
}

// BasePriceFor returns the provider's base price for serviceType, falling
// back to the general base price.
func (p *Provider) BasePriceFor(serviceType string) float64 {
	for _, s := range p.Services {
		if s.Type == serviceType && s.BasePrice > 0 {
			return s.BasePrice
		}
	}
	return p.BasePrice
}

// Offers reports whether the provider serves serviceType.
func (p *Provider) Offers(serviceType string) bool {
	if len(p.Services) == 0 {
		return true
	}
	for _, s := range p.Services {
		if s.Type == serviceType {
			return true
		}
	}
	return false
}

// Consumer is a stored consumer profile.
type Consumer struct {
	DefaultLocation map[string]any `json:"default_location,omitempty"`
	Preferences     map[string]any `json:"preferences,omitempty"`
	ID              string         `json:"id"`
	Name            string         `json:"name,omitempty"`
	Email           string         `json:"email,omitempty"`
	Phone           string         `json:"phone,omitempty"`
}

// Profile renders the consumer as context-tracker profile fields.
func (c *Consumer) Profile() map[string]any {
	out := map[string]any{}
	if c.Name != "" {
		out["name"] = c.Name
	}
	if c.Email != "" {
		out["email"] = c.Email
	}
	if c.Phone != "" {
		out["phone"] = c.Phone
	}
	if len(c.DefaultLocation) > 0 {
		out["default_location"] = c.DefaultLocation
	}
	if len(c.Preferences) > 0 {
		out["preferences"] = c.Preferences
	}
	return out
}

// ConsumerUpdate carries the profile fields to change; nil means keep.
type ConsumerUpdate struct {
	DefaultLocation map[string]any
	Preferences     map[string]any
	Name            *string
	Email           *string
	Phone           *string
}

// Enrollment is a provider sign-up in progress.
type Enrollment struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Data      map[string]any `json:"data"`
	ID        string         `json:"id"`
	Status    string         `json:"status"`
}

// EnrollmentResult is the verification outcome of a submitted enrollment.
type EnrollmentResult struct {
	EnrollmentID  string   `json:"enrollment_id"`
	ProviderID    string   `json:"provider_id,omitempty"`
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	Missing       []string `json:"missing,omitempty"`
	CanAutoVerify bool     `json:"can_auto_verify"`
}

// Marketplace is everything the agent runtime asks of the marketplace.
type Marketplace interface {
	CreateRequest(ctx context.Context, in NewRequest) (*Request, error)
	GetRequest(ctx context.Context, id string) (*Request, error)
	MatchingRequests(ctx context.Context, providerID string) ([]*Request, error)
	MarkLeadViewed(ctx context.Context, providerID, requestID string) (bool, error)
	Offers(ctx context.Context, requestID string) ([]*Offer, error)
	SubmitOffer(ctx context.Context, in NewOffer) (*Offer, error)
	AcceptOffer(ctx context.Context, offerID string, slot Slot) (*Booking, error)
	Provider(ctx context.Context, id string) (*Provider, error)
	Consumer(ctx context.Context, id string) (*Consumer, error)
	UpdateConsumer(ctx context.Context, id string, upd ConsumerUpdate) (*Consumer, error)
	Enrollment(ctx context.Context, id string) (*Enrollment, error)
	UpdateEnrollment(ctx context.Context, id string, fields map[string]any) ([]string, error)
	SubmitEnrollment(ctx context.Context, id string) (*EnrollmentResult, error)
	Catalog() *Catalog
	History
}

// History is the recent activity the memory service summarizes.
type History interface {
	ConsumerBookings(ctx context.Context, consumerID string, limit int) ([]*Booking, error)
	ConsumerRequests(ctx context.Context, consumerID string, limit int) ([]*Request, error)
	ProviderOffers(ctx context.Context, providerID string, limit int) ([]*Offer, error)
}
