// Package session holds the per-session conversation state and the stores
// that persist it between turns.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"proxie/pkg/agent/llm"
	"proxie/pkg/specialist"
	"proxie/pkg/tracker"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("session not found")
	ErrCorrupt  = errors.New("session data corrupt")
)

// Role is the conversational role of a session.
type Role string

// Roles.
const (
	RoleGuest      Role = "guest"
	RoleConsumer   Role = "consumer"
	RoleProvider   Role = "provider"
	RoleEnrollment Role = "enrollment"
)

// Roles lists every role.
//
//nolint:gochecknoglobals // static set
var Roles = []Role{RoleGuest, RoleConsumer, RoleProvider, RoleEnrollment}

// ParseRole validates s. An empty string is a guest.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleGuest, nil
	}
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Message is one transcript entry.
type Message struct {
	CreatedAt  time.Time          `json:"created_at"`
	Role       llm.CompletionRole `json:"role"`
	Content    string             `json:"content"`
	ToolCalls  []llm.ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
}

// Completion converts m for a model request.
func (m Message) Completion() llm.CompletionMessage {
	return llm.CompletionMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
}

// Identity is the set of ids bound to a session.
type Identity struct {
	ConsumerID   string `json:"consumer_id,omitempty"`
	ProviderID   string `json:"provider_id,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	AuthID       string `json:"auth_id,omitempty"`
}

// UserID is the id usage is attributed to.
func (i Identity) UserID() string {
	switch {
	case i.ConsumerID != "":
		return i.ConsumerID
	case i.ProviderID != "":
		return i.ProviderID
	case i.EnrollmentID != "":
		return i.EnrollmentID
	}
	return i.AuthID
}

// Media kinds.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Media is an attachment reference. Storage is external.
type Media struct {
	URL         string `json:"url"`
	MimeType    string `json:"mime_type"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Budget is a request price range.
type Budget struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// RequestDraft is a service request pending approval.
type RequestDraft struct {
	CreatedAt       time.Time      `json:"created_at"`
	Details         map[string]any `json:"details,omitempty"`
	Budget          Budget         `json:"budget"`
	ServiceType     string         `json:"service_type"`
	ServiceCategory string         `json:"service_category"`
	Description     string         `json:"description"`
	Location        string         `json:"location"`
	Timing          string         `json:"timing,omitempty"`
	PreferredDate   string         `json:"preferred_date,omitempty"`
	Media           []Media        `json:"media,omitempty"`
	SpecialistNotes []string       `json:"specialist_notes,omitempty"`
}

// OfferDraft is a provider offer pending approval.
type OfferDraft struct {
	CreatedAt     time.Time `json:"created_at"`
	RequestID     string    `json:"request_id"`
	AvailableDate string    `json:"available_date"`
	AvailableTime string    `json:"available_time"`
	Message       string    `json:"message,omitempty"`
	Price         float64   `json:"price"`
}

// Approval remembers the last approved artifact.
type Approval struct {
	At         time.Time `json:"at"`
	Action     string    `json:"action"`
	ArtifactID string    `json:"artifact_id"`
}

// Session is the unit of conversational continuity.
type Session struct {
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Context      *tracker.Tracker     `json:"context"`
	RequestDraft *RequestDraft        `json:"request_draft,omitempty"`
	OfferDraft   *OfferDraft          `json:"offer_draft,omitempty"`
	Analysis     *specialist.Analysis `json:"specialist_analysis,omitempty"`
	LastApproved *Approval            `json:"last_approved,omitempty"`
	Extra        map[string]any       `json:"extra,omitempty"`
	Identity     Identity             `json:"identity"`
	ID           string               `json:"id"`
	Role         Role                 `json:"role"`
	DisplayName  string               `json:"display_name,omitempty"`
	Intent       tracker.Intent       `json:"intent,omitempty"`
	Messages     []Message            `json:"messages"`
	Media        []Media              `json:"media,omitempty"`
	// Greeted is set once a welcome line has been shown.
	Greeted bool `json:"greeted,omitempty"`
	// MemoryLoaded is set once long-lived memory seeded the context.
	MemoryLoaded bool `json:"memory_loaded,omitempty"`
}

// New creates an empty guest session. An empty id is replaced by a UUID.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Role:      RoleGuest,
		Context:   tracker.New(),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AwaitingApproval reports whether a draft is pending.
func (s *Session) AwaitingApproval() bool {
	return s.RequestDraft != nil || s.OfferDraft != nil
}

// Append adds a message to the transcript.
func (s *Session) Append(m Message) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.Messages = append(s.Messages, m)
}

// AppendUser adds a user message.
func (s *Session) AppendUser(content string) {
	s.Append(Message{Role: llm.RoleUser, Content: content})
}

// AppendAssistant adds an assistant message.
func (s *Session) AppendAssistant(content string, calls ...llm.ToolCall) {
	s.Append(Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls})
}

// AppendTool adds a tool result answering callID.
func (s *Session) AppendTool(callID, name, content string) {
	s.Append(Message{Role: llm.RoleTool, Content: content, ToolCallID: callID, Name: name})
}

// Transcript returns the transcript as completion messages.
func (s *Session) Transcript() []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.Completion())
	}
	return out
}

// Encode serializes s. Values that cannot be encoded are stored in their
// string form, so Encode only fails on programming errors.
func Encode(s *Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err == nil {
		return b, nil
	}
	clone := *s
	clone.Extra = sanitizeMap(s.Extra)
	if s.Context != nil {
		ctx := *s.Context
		ctx.Facts.Preferences = sanitizeMap(ctx.Facts.Preferences)
		ctx.Log = make([]tracker.KnownFact, len(s.Context.Log))
		for i, f := range s.Context.Log {
			f.Value = sanitize(f.Value)
			ctx.Log[i] = f
		}
		clone.Context = &ctx
	}
	if s.RequestDraft != nil {
		d := *s.RequestDraft
		d.Details = sanitizeMap(d.Details)
		clone.RequestDraft = &d
	}
	if s.Analysis != nil {
		a := *s.Analysis
		a.Enriched = sanitizeMap(a.Enriched)
		clone.Analysis = &a
	}
	b, err = json.Marshal(&clone)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return b, nil
}

// Decode parses data written by Encode. Failures wrap ErrCorrupt.
func Decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorrupt)
	}
	if s.Context == nil {
		s.Context = tracker.New()
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.Role == "" {
		s.Role = RoleGuest
	}
	return &s, nil
}

func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitize(v)
	}
	return out
}

func sanitize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, json.Number:
		return v
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Sprint(t)
		}
		return v
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitize(e)
		}
		return out
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
