package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"proxie/pkg/agent"
	"proxie/pkg/agent/llm"
	"proxie/pkg/gateway"
	"proxie/pkg/logx"
)

// Completer is the gateway surface the extractor needs.
type Completer interface {
	Complete(ctx context.Context, req gateway.Request) (*gateway.Completion, error)
}

// ErrNoObject is returned when the model reply holds no JSON object.
var ErrNoObject = errors.New("no JSON object in extraction reply")

const extractionInstructions = `You extract structured facts from a marketplace chat message.
Reply with a single JSON object and nothing else. Use only these keys and
omit any key the message does not state:
  name, email, phone, service_type, location, address, city,
  budget_min, budget_max (numbers, USD), timing (asap|today|tomorrow|this_week|next_week|flexible),
  preferred_date, preferred_time, preferences (object, e.g. hair_type, hair_texture),
  provider_id, request_id, price (number), available_date, available_time,
  business_name, years_experience (number), services_offered (list), service_radius (miles), bio.`

// Extractor pulls facts out of a user utterance with a dedicated model call.
type Extractor struct {
	completer Completer
	logger    *logx.Logger
}

// NewExtractor creates an extractor over c.
func NewExtractor(c Completer) *Extractor {
	return &Extractor{completer: c, logger: logx.NewLogger("extractor")}
}

// Extract returns the facts stated in text. Budget errors are returned as
// is; every other failure is returned wrapped for the caller to log.
func (e *Extractor) Extract(ctx context.Context, text, role, userID, sessionID string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}, nil
	}
	system := extractionInstructions + "\n" + agent.MarkerRole + " " + role
	req := gateway.NewRequest(agent.FeatureExtraction, []llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(agent.MarkerUserMessage + "\n" + text),
	})
	req.Temperature = llm.TemperatureDeterministic
	req.MaxTokens = 400
	req.UserID = userID
	req.SessionID = sessionID

	c, err := e.completer.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, gateway.ErrBudgetExceeded) {
			return nil, err //nolint:wrapcheck // sentinel checked by caller
		}
		return nil, fmt.Errorf("extraction call: %w", err)
	}
	facts, err := ParseFacts(c.Content)
	if err != nil {
		e.logger.Warn("extraction reply unusable: %v", err)
		return nil, err
	}
	return facts, nil
}

// Apply extracts facts from text and merges them as current-message facts.
// It returns an error only when the budget is exhausted.
func (e *Extractor) Apply(ctx context.Context, t *Tracker, text, role, userID, sessionID string) error {
	facts, err := e.Extract(ctx, text, role, userID, sessionID)
	if err != nil {
		if errors.Is(err, gateway.ErrBudgetExceeded) {
			return err
		}
		logx.FromContext(ctx, "extractor").Warn("extraction failed, keeping prior context: %v", err)
		return nil
	}
	t.UpdateFromExtraction(facts, SourceCurrent)
	return nil
}

// ParseFacts decodes a model reply leniently: code fences are stripped and
// the first balanced {...} object is decoded.
func ParseFacts(reply string) (map[string]any, error) {
	obj, ok := firstObject(stripFences(reply))
	if !ok {
		return nil, ErrNoObject
	}
	var facts map[string]any
	if err := json.Unmarshal([]byte(obj), &facts); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	for k, v := range facts {
		if !Known(k) || v == nil {
			delete(facts, k)
		}
	}
	return facts, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
