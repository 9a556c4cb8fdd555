package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"proxie/pkg/logx"
)

// enrollmentRequired are the enrollment fields verification insists on.
//
//nolint:gochecknoglobals // static field list
var enrollmentRequired = []string{"full_name", "services", "location"}

var _ Marketplace = (*InMemory)(nil)

// InMemory is a process-local Marketplace.
type InMemory struct {
	catalog     *Catalog
	logger      *logx.Logger
	requests    map[string]*Request
	offers      map[string]*Offer
	bookings    map[string]*Booking
	providers   map[string]*Provider
	consumers   map[string]*Consumer
	enrollments map[string]*Enrollment
	viewed      map[string]bool
	now         func() time.Time
	mu          sync.RWMutex
}

// NewInMemory creates an empty marketplace served by catalog.
func NewInMemory(catalog *Catalog) *InMemory {
	if catalog == nil {
		catalog = &Catalog{}
	}
	return &InMemory{
		catalog:     catalog,
		logger:      logx.NewLogger("marketplace"),
		requests:    make(map[string]*Request),
		offers:      make(map[string]*Offer),
		bookings:    make(map[string]*Booking),
		providers:   make(map[string]*Provider),
		consumers:   make(map[string]*Consumer),
		enrollments: make(map[string]*Enrollment),
		viewed:      make(map[string]bool),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddProvider registers or replaces a provider. An empty id is generated.
func (m *InMemory) AddProvider(p Provider) *Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = EnrollmentActive
	}
	m.providers[p.ID] = &p
	return &p
}

// AddConsumer registers or replaces a consumer profile.
func (m *InMemory) AddConsumer(c Consumer) *Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.consumers[c.ID] = &c
	return &c
}

// Catalog implements Marketplace.
func (m *InMemory) Catalog() *Catalog { return m.catalog }

// CreateRequest implements Marketplace.
func (m *InMemory) CreateRequest(ctx context.Context, in NewRequest) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}
	if strings.TrimSpace(in.ServiceType) == "" {
		return nil, fmt.Errorf("%w: service_type is required", ErrInvalid)
	}
	if in.Budget.Max > 0 && in.Budget.Min > in.Budget.Max {
		return nil, fmt.Errorf("%w: budget min %.2f exceeds max %.2f", ErrInvalid, in.Budget.Min, in.Budget.Max)
	}
	req := &Request{
		CreatedAt:       m.now(),
		Details:         in.Details,
		Analysis:        in.Analysis,
		ID:              uuid.NewString(),
		ConsumerID:      in.ConsumerID,
		ServiceType:     in.ServiceType,
		ServiceCategory: in.ServiceCategory,
		Description:     in.Description,
		Location:        in.Location,
		Timing:          in.Timing,
		PreferredDate:   in.PreferredDate,
		Status:          StatusMatching,
		Media:           append([]string(nil), in.Media...),
		Budget:          in.Budget,
	}
	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()
	m.logger.Info("📝 Created request %s for %s in %s", req.ID, req.ServiceType, req.Location)
	out := *req
	return &out, nil
}

// GetRequest implements Marketplace.
func (m *InMemory) GetRequest(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	out := *req
	return &out, nil
}

// MatchingRequests implements Marketplace. Open requests match when the
// provider serves their service type; newest first.
func (m *InMemory) MatchingRequests(_ context.Context, providerID string) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, ErrNotFound)
	}
	var out []*Request
	for _, req := range m.requests {
		if req.Status == StatusMatching && p.Offers(req.ServiceType) {
			r := *req
			out = append(out, &r)
		}
	}
	sortRequests(out)
	return out, nil
}

// MarkLeadViewed implements Marketplace. It reports whether this was the
// first view.
func (m *InMemory) MarkLeadViewed(_ context.Context, providerID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[requestID]; !ok {
		return false, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	key := providerID + "/" + requestID
	if m.viewed[key] {
		return false, nil
	}
	m.viewed[key] = true
	return true, nil
}

// Offers implements Marketplace.
func (m *InMemory) Offers(_ context.Context, requestID string) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.requests[requestID]; !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	var out []*Offer
	for _, o := range m.offers {
		if o.RequestID == requestID {
			c := *o
			out = append(out, &c)
		}
	}
	sortOffers(out)
	return out, nil
}

// SubmitOffer implements Marketplace.
func (m *InMemory) SubmitOffer(ctx context.Context, in NewOffer) (*Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}
	if in.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[in.RequestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", in.RequestID, ErrNotFound)
	}
	if req.Status != StatusMatching {
		return nil, fmt.Errorf("%w: request %s is %s", ErrInvalid, req.ID, req.Status)
	}
	offer := &Offer{
		CreatedAt:   m.now(),
		ID:          uuid.NewString(),
		RequestID:   in.RequestID,
		ProviderID:  in.ProviderID,
		ServiceName: req.ServiceType,
		Message:     in.Message,
		Status:      OfferPending,
		Slots:       append([]Slot(nil), in.Slots...),
		Price:       in.Price,
	}
	m.offers[offer.ID] = offer
	m.logger.Info("💰 Provider %s offered $%.2f on request %s", in.ProviderID, in.Price, in.RequestID)
	out := *offer
	return &out, nil
}

// AcceptOffer implements Marketplace. The slot must be one the offer
// proposed, when it proposed any. Sibling offers are declined.
func (m *InMemory) AcceptOffer(ctx context.Context, offerID string, slot Slot) (*Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passthrough
	}
	if slot.Date == "" || slot.StartTime == "" {
		return nil, fmt.Errorf("%w: a slot date and start time are required", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	offer, ok := m.offers[offerID]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", offerID, ErrNotFound)
	}
	if offer.Status != OfferPending {
		return nil, fmt.Errorf("%w: offer is %s", ErrOfferClosed, offer.Status)
	}
	if len(offer.Slots) > 0 && !hasSlot(offer.Slots, slot) {
		return nil, ErrSlotUnavailable
	}
	req := m.requests[offer.RequestID]

	offer.Status = OfferAccepted
	for _, o := range m.offers {
		if o.RequestID == offer.RequestID && o.ID != offer.ID && o.Status == OfferPending {
			o.Status = OfferDeclined
		}
	}
	booking := &Booking{
		CreatedAt:  m.now(),
		ID:         uuid.NewString(),
		OfferID:    offer.ID,
		RequestID:  offer.RequestID,
		ProviderID: offer.ProviderID,
		Status:     "confirmed",
		Slot:       slot,
		Price:      offer.Price,
	}
	if req != nil {
		req.Status = StatusBooked
		booking.ConsumerID = req.ConsumerID
		booking.ServiceType = req.ServiceType
	}
	m.bookings[booking.ID] = booking
	m.logger.Info("✅ Booking %s confirmed for %s %s", booking.ID, slot.Date, slot.StartTime)
	out := *booking
	return &out, nil
}

func hasSlot(slots []Slot, want Slot) bool {
	for _, s := range slots {
		if s.Date == want.Date && s.StartTime == want.StartTime {
			return true
		}
	}
	return false
}

// Provider implements Marketplace.
func (m *InMemory) Provider(_ context.Context, id string) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	out := *p
	return &out, nil
}

// Consumer implements Marketplace.
func (m *InMemory) Consumer(_ context.Context, id string) (*Consumer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consumers[id]
	if !ok {
		return nil, fmt.Errorf("consumer %s: %w", id, ErrNotFound)
	}
	out := *c
	return &out, nil
}

// UpdateConsumer implements Marketplace. Missing consumers are created;
// preferences merge key by key.
func (m *InMemory) UpdateConsumer(_ context.Context, id string, upd ConsumerUpdate) (*Consumer, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: consumer id is required", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consumers[id]
	if !ok {
		c = &Consumer{ID: id}
		m.consumers[id] = c
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Email != nil {
		c.Email = *upd.Email
	}
	if upd.Phone != nil {
		c.Phone = *upd.Phone
	}
	if upd.DefaultLocation != nil {
		c.DefaultLocation = upd.DefaultLocation
	}
	if len(upd.Preferences) > 0 {
		if c.Preferences == nil {
			c.Preferences = make(map[string]any, len(upd.Preferences))
		}
		for k, v := range upd.Preferences {
			c.Preferences[k] = v
		}
	}
	out := *c
	return &out, nil
}

// Enrollment implements Marketplace.
func (m *InMemory) Enrollment(_ context.Context, id string) (*Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, fmt.Errorf("enrollment %s: %w", id, ErrNotFound)
	}
	return copyEnrollment(e), nil
}

// UpdateEnrollment implements Marketplace. The enrollment is created on
// first update; it returns the updated field names, sorted.
func (m *InMemory) UpdateEnrollment(_ context.Context, id string, fields map[string]any) ([]string, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: enrollment id is required", ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		e = &Enrollment{ID: id, Status: EnrollmentDraft, Data: map[string]any{}}
		m.enrollments[id] = e
	}
	updated := make([]string, 0, len(fields))
	for k, v := range fields {
		e.Data[k] = v
		updated = append(updated, k)
	}
	e.UpdatedAt = m.now()
	sort.Strings(updated)
	return updated, nil
}

// SubmitEnrollment implements Marketplace. Complete enrollments without
// licensed services are activated as providers right away.
func (m *InMemory) SubmitEnrollment(_ context.Context, id string) (*EnrollmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, fmt.Errorf("enrollment %s: %w", id, ErrNotFound)
	}
	res := &EnrollmentResult{EnrollmentID: id}

	for _, f := range enrollmentRequired {
		if !present(e.Data[f]) {
			res.Missing = append(res.Missing, f)
		}
	}
	if len(res.Missing) > 0 {
		e.Status = EnrollmentPending
		res.Status = EnrollmentPending
		res.Message = "Enrollment incomplete. Missing: " + strings.Join(res.Missing, ", ")
		return res, nil
	}

	if m.requiresLicense(e.Data["services"]) {
		e.Status = EnrollmentPendingVerification
		res.Status = EnrollmentPendingVerification
		res.Message = "Your selected services require manual license verification. We'll review your profile within 24 hours."
		return res, nil
	}

	p := &Provider{
		ID:     uuid.NewString(),
		Name:   fmt.Sprint(e.Data["full_name"]),
		Status: EnrollmentActive,
	}
	p.Services = enrollmentServices(e.Data["services"])
	m.providers[p.ID] = p
	e.Status = EnrollmentActive
	res.Status = EnrollmentActive
	res.ProviderID = p.ID
	res.CanAutoVerify = true
	res.Message = "Your profile is verified and active. You'll start receiving leads shortly."
	m.logger.Info("🎉 Enrollment %s activated as provider %s", id, p.ID)
	return res, nil
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// serviceEntries normalizes the services field: a list of strings or of
// objects carrying service_id, id, type or name.
func serviceEntries(raw any) []map[string]any {
	var list []any
	switch t := raw.(type) {
	case []any:
		list = t
	case []string:
		for _, s := range t {
			list = append(list, s)
		}
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		switch t := item.(type) {
		case string:
			out = append(out, map[string]any{"service_id": t})
		case map[string]any:
			out = append(out, t)
		}
	}
	return out
}

func serviceID(entry map[string]any) string {
	for _, k := range []string{"service_id", "id", "type", "name"} {
		if s, ok := entry[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (m *InMemory) requiresLicense(raw any) bool {
	for _, entry := range serviceEntries(raw) {
		if svc, _, ok := m.catalog.Service(serviceID(entry)); ok && svc.RequiresLicense {
			return true
		}
	}
	return false
}

func enrollmentServices(raw any) []ProviderService {
	var out []ProviderService
	for _, entry := range serviceEntries(raw) {
		id := serviceID(entry)
		if id == "" {
			continue
		}
		ps := ProviderService{Type: id}
		for _, k := range []string{"base_price", "price_min"} {
			if f, ok := entry[k].(float64); ok && f > 0 {
				ps.BasePrice = f
				break
			}
		}
		out = append(out, ps)
	}
	return out
}

func copyEnrollment(e *Enrollment) *Enrollment {
	out := *e
	out.Data = make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		out.Data[k] = v
	}
	return &out
}

// ConsumerBookings implements History.
func (m *InMemory) ConsumerBookings(_ context.Context, consumerID string, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.ConsumerID == consumerID {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// ConsumerRequests implements History.
func (m *InMemory) ConsumerRequests(_ context.Context, consumerID string, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Request
	for _, r := range m.requests {
		if r.ConsumerID == consumerID {
			c := *r
			out = append(out, &c)
		}
	}
	sortRequests(out)
	return truncate(out, limit), nil
}

// ProviderOffers implements History.
func (m *InMemory) ProviderOffers(_ context.Context, providerID string, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Offer
	for _, o := range m.offers {
		if o.ProviderID == providerID {
			c := *o
			out = append(out, &c)
		}
	}
	sortOffers(out)
	return truncate(out, limit), nil
}

// sortRequests orders newest first, ids breaking ties.
func sortRequests(rs []*Request) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func sortOffers(offers []*Offer) {
	sort.Slice(offers, func(i, j int) bool {
		if !offers[i].CreatedAt.Equal(offers[j].CreatedAt) {
			return offers[i].CreatedAt.After(offers[j].CreatedAt)
		}
		return offers[i].ID < offers[j].ID
	})
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
