// Package memory keeps long-lived per-consumer and per-provider memory
// across sessions and summarizes recent marketplace activity.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"proxie/pkg/logx"
	"proxie/pkg/marketplace"
	"proxie/pkg/persistence"
	"proxie/pkg/tools"
	"proxie/pkg/utils"
)

// Outcomes recorded by the orchestrator.
const (
	OutcomeBookingConfirmed = "booking_confirmed"
	OutcomeRequestPosted    = "request_posted"
	OutcomeOfferSent        = "offer_sent"
)

// History limits.
const (
	consumerHistoryLimit = 5
	providerOfferLimit   = 10
)

// NoHistorySummary is the summary of a consumer memory with nothing learned.
const NoHistorySummary = "New user with no history."

// ConsumerMemory is what is remembered about a consumer.
//
//nolint:govet // fieldalignment: JSON document, readability first
type ConsumerMemory struct {
	ConsumerID         string         `json:"consumer_id"`
	PreferredBudgetMin *float64       `json:"preferred_budget_min,omitempty"`
	PreferredBudgetMax *float64       `json:"preferred_budget_max,omitempty"`
	PreferredTiming    string         `json:"preferred_timing,omitempty"`
	CommunicationStyle string         `json:"communication_style,omitempty"`
	LearnedPreferences map[string]any `json:"learned_preferences,omitempty"`
	TotalBookings      int            `json:"total_bookings"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Embedding          []float64      `json:"-"`
}

// LastLocation returns the most recently learned service location.
func (m *ConsumerMemory) LastLocation() string {
	s, _ := m.LearnedPreferences["last_location"].(string)
	return s
}

// ProviderMemory is what is remembered about a provider.
//
//nolint:govet // fieldalignment: JSON document, readability first
type ProviderMemory struct {
	ProviderID         string         `json:"provider_id"`
	LearnedPatterns    map[string]any `json:"learned_patterns,omitempty"`
	TotalLeadsReceived int            `json:"total_leads_received"`
	TotalOffersSent    int            `json:"total_offers_sent"`
	TotalBookings      int            `json:"total_bookings"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Embedding          []float64      `json:"-"`
}

// ConversionRate is bookings per offer sent.
func (m *ProviderMemory) ConversionRate() float64 {
	if m.TotalOffersSent == 0 {
		return 0
	}
	return float64(m.TotalBookings) / float64(m.TotalOffersSent)
}

// ToolUse is one tool call made during a turn.
type ToolUse struct {
	Args map[string]any `json:"args,omitempty"`
	Name string         `json:"name"`
	OK   bool           `json:"ok"`
}

// Interaction is one turn as seen by the memory service.
type Interaction struct {
	SessionID string    `json:"session_id"`
	Intent    string    `json:"intent,omitempty"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Tools     []ToolUse `json:"tools,omitempty"`
}

// ConsumerContext is a consumer's memory plus recent activity.
type ConsumerContext struct {
	Memory         *ConsumerMemory
	Summary        string
	RecentBookings []*marketplace.Booking
	RecentRequests []*marketplace.Request
}

// Performance aggregates a provider's funnel.
type Performance struct {
	Leads      int     `json:"leads"`
	Offers     int     `json:"offers"`
	Conversion float64 `json:"conversion"`
}

// ProviderContext is a provider's memory plus recent offers.
type ProviderContext struct {
	Memory       *ProviderMemory
	RecentOffers []*marketplace.Offer
	Performance  Performance
}

// Summary renders the provider context as one line.
func (c *ProviderContext) Summary() string {
	return fmt.Sprintf("Leads received: %d. Offers sent: %d. Conversion: %.0f%%.",
		c.Performance.Leads, c.Performance.Offers, c.Performance.Conversion*100)
}

// Service reads and updates memory.
type Service struct {
	store    Store
	history  marketplace.History
	embedder Embedder
	logger   *logx.Logger
	now      func() time.Time
}

// NewService creates a memory service. history and embedder may be nil.
func NewService(store Store, history marketplace.History, embedder Embedder) *Service {
	return &Service{
		store:    store,
		history:  history,
		embedder: embedder,
		logger:   logx.NewLogger("memory"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetConsumerContext loads a consumer's memory, creating it if missing, and
// their recent bookings and requests.
func (s *Service) GetConsumerContext(ctx context.Context, consumerID string) (*ConsumerContext, error) {
	mem, err := s.consumerMemory(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	out := &ConsumerContext{Memory: mem}
	if s.history != nil {
		if out.RecentBookings, err = s.history.ConsumerBookings(ctx, consumerID, consumerHistoryLimit); err != nil {
			s.logger.Warn("failed to load bookings for consumer %s: %v", consumerID, err)
		}
		if out.RecentRequests, err = s.history.ConsumerRequests(ctx, consumerID, consumerHistoryLimit); err != nil {
			s.logger.Warn("failed to load requests for consumer %s: %v", consumerID, err)
		}
	}
	out.Summary = summarize(mem, out.RecentBookings)
	return out, nil
}

// UpdateConsumerMemory logs in and folds what it reveals into the
// consumer's memory.
func (s *Service) UpdateConsumerMemory(ctx context.Context, consumerID string, in Interaction) error {
	s.logInteraction(ctx, persistence.SubjectConsumer, consumerID, in)

	mem, err := s.consumerMemory(ctx, consumerID)
	if err != nil {
		return err
	}
	before := preferenceText(mem)
	for _, use := range in.Tools {
		if !use.OK {
			continue
		}
		applyConsumerTool(mem, use)
	}
	if in.Outcome == OutcomeBookingConfirmed {
		mem.TotalBookings++
	}
	if after := preferenceText(mem); after != before {
		mem.Embedding = s.embed(ctx, after, mem.Embedding)
	}
	mem.UpdatedAt = s.now()
	return s.save(ctx, persistence.SubjectConsumer, consumerID, mem, mem.Embedding)
}

// GetProviderContext loads a provider's memory, creating it if missing, and
// their recent offers.
func (s *Service) GetProviderContext(ctx context.Context, providerID string) (*ProviderContext, error) {
	mem, err := s.providerMemory(ctx, providerID)
	if err != nil {
		return nil, err
	}
	out := &ProviderContext{
		Memory: mem,
		Performance: Performance{
			Leads:      mem.TotalLeadsReceived,
			Offers:     mem.TotalOffersSent,
			Conversion: mem.ConversionRate(),
		},
	}
	if s.history != nil {
		if out.RecentOffers, err = s.history.ProviderOffers(ctx, providerID, providerOfferLimit); err != nil {
			s.logger.Warn("failed to load offers for provider %s: %v", providerID, err)
		}
	}
	return out, nil
}

// UpdateProviderMemory logs in and updates the provider's funnel counters.
func (s *Service) UpdateProviderMemory(ctx context.Context, providerID string, in Interaction) error {
	s.logInteraction(ctx, persistence.SubjectProvider, providerID, in)

	mem, err := s.providerMemory(ctx, providerID)
	if err != nil {
		return err
	}
	for _, use := range in.Tools {
		if !use.OK {
			continue
		}
		switch use.Name {
		case tools.ToolGetLeadDetails:
			mem.TotalLeadsReceived++
		case tools.ToolSubmitOffer:
			mem.TotalOffersSent++
			if price, ok := utils.Float(use.Args["price"]); ok {
				setPattern(mem, "last_offer_price", price)
			}
		case tools.ToolDraftOffer, tools.ToolSuggestOffer:
			if price, ok := utils.Float(use.Args["price"]); ok {
				setPattern(mem, "last_draft_price", price)
			}
		}
	}
	if in.Outcome == OutcomeBookingConfirmed {
		mem.TotalBookings++
	}
	mem.UpdatedAt = s.now()
	return s.save(ctx, persistence.SubjectProvider, providerID, mem, mem.Embedding)
}

func setPattern(mem *ProviderMemory, key string, v any) {
	if mem.LearnedPatterns == nil {
		mem.LearnedPatterns = map[string]any{}
	}
	mem.LearnedPatterns[key] = v
}

func applyConsumerTool(mem *ConsumerMemory, use ToolUse) {
	args := use.Args
	switch use.Name {
	case tools.ToolUpdatePreferences:
		if v, ok := utils.Float(args["budget_min"]); ok {
			mem.PreferredBudgetMin = &v
		}
		if v, ok := utils.Float(args["budget_max"]); ok {
			mem.PreferredBudgetMax = &v
		}
		if s, ok := args["timing"].(string); ok && s != "" {
			mem.PreferredTiming = s
		}
		if s, ok := args["communication_style"].(string); ok && s != "" {
			mem.CommunicationStyle = s
		}
		if s, ok := args["location"].(string); ok && s != "" {
			learn(mem, "last_location", s)
		}
	case tools.ToolUpdateRequestDetails, tools.ToolCreateServiceRequest:
		if s, ok := args["budget"].(string); ok && s != "" {
			learn(mem, "last_budget_hint", s)
		} else if v, ok := utils.Float(args["budget_max"]); ok {
			learn(mem, "last_budget_hint", v)
		}
		if s, ok := args["location"].(string); ok && s != "" {
			learn(mem, "last_location", s)
		}
	}
}

func learn(mem *ConsumerMemory, key string, v any) {
	if mem.LearnedPreferences == nil {
		mem.LearnedPreferences = map[string]any{}
	}
	mem.LearnedPreferences[key] = v
}

// preferenceText is the embedded description of a consumer's preferences.
func preferenceText(mem *ConsumerMemory) string {
	var parts []string
	if mem.PreferredBudgetMin != nil || mem.PreferredBudgetMax != nil {
		parts = append(parts, "Budget: "+money(mem.PreferredBudgetMin)+"-"+money(mem.PreferredBudgetMax))
	}
	if loc := mem.LastLocation(); loc != "" {
		parts = append(parts, "Location: "+loc)
	}
	if mem.PreferredTiming != "" {
		parts = append(parts, "Timing: "+mem.PreferredTiming)
	}
	return strings.Join(parts, ", ")
}

func summarize(mem *ConsumerMemory, bookings []*marketplace.Booking) string {
	var parts []string
	if mem.PreferredBudgetMin != nil || mem.PreferredBudgetMax != nil {
		parts = append(parts, fmt.Sprintf("Budget preference: $%s-$%s", money(mem.PreferredBudgetMin), money(mem.PreferredBudgetMax)))
	}
	if loc := mem.LastLocation(); loc != "" {
		parts = append(parts, "Usually requests services in "+loc)
	}
	if len(bookings) > 0 {
		last := bookings[0]
		service := last.ServiceType
		if service == "" {
			service = "a service"
		}
		date := last.Slot.Date
		if date == "" {
			date = last.CreatedAt.Format("2006-01-02")
		}
		parts = append(parts, fmt.Sprintf("Last booking was for %s on %s", service, date))
	}
	if len(parts) == 0 {
		return NoHistorySummary
	}
	return strings.Join(parts, ". ")
}

func money(p *float64) string {
	if p == nil {
		return "?"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func (s *Service) embed(ctx context.Context, text string, previous []float64) []float64 {
	if s.embedder == nil || text == "" {
		return previous
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, keeping previous vector: %v", err)
		return previous
	}
	return vec
}

func (s *Service) logInteraction(ctx context.Context, kind, id string, in Interaction) {
	data, err := json.Marshal(in)
	if err != nil {
		s.logger.Warn("failed to encode interaction for %s %s: %v", kind, id, err)
		return
	}
	row := &persistence.InteractionRow{
		CreatedAt: s.now(),
		Kind:      kind,
		SubjectID: id,
		SessionID: in.SessionID,
		Intent:    in.Intent,
		Outcome:   in.Outcome,
		Data:      string(data),
	}
	if err := s.store.InsertInteraction(ctx, row); err != nil {
		s.logger.Warn("failed to log interaction for %s %s: %v", kind, id, err)
	}
}

func (s *Service) consumerMemory(ctx context.Context, id string) (*ConsumerMemory, error) {
	mem := &ConsumerMemory{}
	created, err := s.load(ctx, persistence.SubjectConsumer, id, mem, &mem.Embedding)
	if err != nil {
		return nil, err
	}
	mem.ConsumerID = id
	if created {
		mem.UpdatedAt = s.now()
		if err := s.save(ctx, persistence.SubjectConsumer, id, mem, nil); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func (s *Service) providerMemory(ctx context.Context, id string) (*ProviderMemory, error) {
	mem := &ProviderMemory{}
	created, err := s.load(ctx, persistence.SubjectProvider, id, mem, &mem.Embedding)
	if err != nil {
		return nil, err
	}
	mem.ProviderID = id
	if created {
		mem.UpdatedAt = s.now()
		if err := s.save(ctx, persistence.SubjectProvider, id, mem, nil); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

// load decodes the stored row into dst. It reports true when no row existed.
func (s *Service) load(ctx context.Context, kind, id string, dst any, embedding *[]float64) (bool, error) {
	row, err := s.store.GetMemory(ctx, kind, id)
	if errors.Is(err, persistence.ErrNotFound) {
		s.logger.Debug("creating %s memory for %s", kind, id)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s memory %s: %w", kind, id, err)
	}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), dst); err != nil {
			return false, fmt.Errorf("corrupt %s memory %s: %w", kind, id, err)
		}
	}
	if row.Embedding != "" {
		if err := json.Unmarshal([]byte(row.Embedding), embedding); err != nil {
			s.logger.Warn("dropping unreadable embedding of %s %s: %v", kind, id, err)
			*embedding = nil
		}
	}
	return false, nil
}

func (s *Service) save(ctx context.Context, kind, id string, mem any, embedding []float64) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("failed to encode %s memory %s: %w", kind, id, err)
	}
	row := &persistence.MemoryRow{
		UpdatedAt: s.now(),
		Kind:      kind,
		SubjectID: id,
		Data:      string(data),
	}
	if len(embedding) > 0 {
		vec, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to encode %s embedding %s: %w", kind, id, err)
		}
		row.Embedding = string(vec)
	}
	if err := s.store.UpsertMemory(ctx, row); err != nil {
		return fmt.Errorf("failed to save %s memory %s: %w", kind, id, err)
	}
	return nil
}
