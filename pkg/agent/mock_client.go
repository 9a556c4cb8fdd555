package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"proxie/pkg/agent/llm"
)

// Prompt markers the mock reads from system prompts. The prompt builder and
// the extractor write these lines.
const (
	MarkerRole            = "Current role:"
	MarkerKnown           = "Known information:"
	MarkerMissingRequired = "Missing required information:"
	MarkerUserMessage     = "User message:"

	// FeatureExtraction is the call feature the extractor uses.
	FeatureExtraction = "extraction"

	mockUsageTokens = 10
)

// MockClient is a deterministic scripted LLMClient used when no provider
// credentials are configured. It extracts facts heuristically, walks the
// consumer flow toward a request draft and drives the provider and
// enrollment tools.
type MockClient struct {
	model string
	calls int
	mu    sync.Mutex
}

// NewMockClient creates a mock client reporting model as its name.
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model}
}

// GetModelName returns the model name.
func (m *MockClient) GetModelName() string { return m.model }

// Calls returns how many completions were served.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) nextCallID() string {
	m.calls++
	return fmt.Sprintf("call_mock_%d", m.calls)
}

// Complete returns a scripted completion for req.
func (m *MockClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.CompletionResponse{}, err //nolint:wrapcheck // context error passthrough
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	system := systemText(req.Messages)
	usage := llm.Usage{PromptTokens: mockUsageTokens, CompletionTokens: mockUsageTokens}

	if llm.CallInfoFrom(ctx).Feature == FeatureExtraction {
		m.calls++
		text := lastUserText(req.Messages)
		if i := strings.LastIndex(text, MarkerUserMessage); i >= 0 {
			text = text[i+len(MarkerUserMessage):]
		}
		facts := ExtractFactsHeuristic(strings.TrimSpace(text), promptRole(system))
		b, err := json.Marshal(facts)
		if err != nil {
			return llm.CompletionResponse{}, fmt.Errorf("mock extraction: %w", err)
		}
		return llm.CompletionResponse{Content: string(b), StopReason: "stop", Usage: usage}, nil
	}

	if results := trailingToolResults(req.Messages); len(results) > 0 {
		if call, ok := m.followUpCall(req, results); ok {
			return llm.CompletionResponse{ToolCalls: []llm.ToolCall{call}, StopReason: "tool_use", Usage: usage}, nil
		}
		m.calls++
		return llm.CompletionResponse{Content: summarizeToolResults(results), StopReason: "stop", Usage: usage}, nil
	}

	user := strings.ToLower(lastUserText(req.Messages))
	role := promptRole(system)

	switch role {
	case "provider":
		if strings.Contains(user, "lead") && hasTool(req.Tools, "get_matching_requests") {
			return m.toolCall("get_matching_requests", map[string]any{}, usage), nil
		}
		m.calls++
		return llm.CompletionResponse{
			Content:    "I can show your matching leads or help you price and draft an offer. What would you like to do?",
			StopReason: "stop",
			Usage:      usage,
		}, nil
	case "enrollment":
		if strings.Contains(user, "service") && hasTool(req.Tools, "get_service_catalog") {
			return m.toolCall("get_service_catalog", map[string]any{}, usage), nil
		}
		m.calls++
		missing := promptList(system, MarkerMissingRequired)
		if len(missing) == 0 {
			return llm.CompletionResponse{
				Content:    "Your profile looks complete. Ready to submit your enrollment?",
				StopReason: "stop",
				Usage:      usage,
			}, nil
		}
		return llm.CompletionResponse{Content: askFor(missing[0]), StopReason: "stop", Usage: usage}, nil
	}

	m.calls++
	missing := promptList(system, MarkerMissingRequired)
	if len(missing) == 0 {
		return llm.CompletionResponse{
			Content:    requestSummary(promptPairs(system, MarkerKnown)),
			StopReason: "stop",
			Usage:      usage,
		}, nil
	}
	return llm.CompletionResponse{Content: askFor(missing[0]), StopReason: "stop", Usage: usage}, nil
}

func (m *MockClient) toolCall(name string, args map[string]any, usage llm.Usage) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:        m.nextCallID(),
			Name:      name,
			Arguments: llm.ArgumentsFromMap(args),
		}},
		StopReason: "tool_use",
		Usage:      usage,
	}
}

// followUpCall chains suggest_offer after get_matching_requests when the user
// asked for a price.
func (m *MockClient) followUpCall(req llm.CompletionRequest, results []llm.CompletionMessage) (llm.ToolCall, bool) {
	user := strings.ToLower(lastUserText(req.Messages))
	if !strings.Contains(user, "price") && !strings.Contains(user, "suggest") {
		return llm.ToolCall{}, false
	}
	if !hasTool(req.Tools, "suggest_offer") || calledSince(req.Messages, "suggest_offer") {
		return llm.ToolCall{}, false
	}
	for _, res := range results {
		if res.Name != "get_matching_requests" {
			continue
		}
		var payload struct {
			Requests []map[string]any `json:"requests"`
		}
		if err := json.Unmarshal([]byte(res.Content), &payload); err != nil || len(payload.Requests) == 0 {
			return llm.ToolCall{}, false
		}
		id, _ := payload.Requests[0]["id"].(string)
		if id == "" {
			id, _ = payload.Requests[0]["request_id"].(string)
		}
		if id == "" {
			return llm.ToolCall{}, false
		}
		return llm.ToolCall{
			ID:        m.nextCallID(),
			Name:      "suggest_offer",
			Arguments: llm.ArgumentsFromMap(map[string]any{"request_id": id}),
		}, true
	}
	return llm.ToolCall{}, false
}

func systemText(msgs []llm.CompletionMessage) string {
	var b strings.Builder
	for i := range msgs {
		if msgs[i].Role == llm.RoleSystem {
			b.WriteString(msgs[i].Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func lastUserText(msgs []llm.CompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// trailingToolResults returns the tool messages after the last assistant turn.
func trailingToolResults(msgs []llm.CompletionMessage) []llm.CompletionMessage {
	end := len(msgs)
	start := end
	for start > 0 && msgs[start-1].Role == llm.RoleTool {
		start--
	}
	return msgs[start:end]
}

// calledSince reports whether name was called after the last user message.
func calledSince(msgs []llm.CompletionMessage, name string) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return false
		}
		for _, c := range msgs[i].ToolCalls {
			if c.Name == name {
				return true
			}
		}
	}
	return false
}

func hasTool(tools []llm.ToolDefinition, name string) bool {
	for i := range tools {
		if tools[i].Name == name {
			return true
		}
	}
	return false
}

func promptLine(system, marker string) (string, bool) {
	for _, line := range strings.Split(system, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return "", false
}

func promptRole(system string) string {
	role, _ := promptLine(system, MarkerRole)
	return strings.ToLower(role)
}

// promptList parses "Marker: a, b, c". "none" yields an empty list.
func promptList(system, marker string) []string {
	line, ok := promptLine(system, marker)
	if !ok || line == "" || strings.EqualFold(line, "none") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(line, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// promptPairs parses "Marker: k=v; k=v".
func promptPairs(system, marker string) map[string]string {
	out := map[string]string{}
	line, ok := promptLine(system, marker)
	if !ok {
		return out
	}
	for _, part := range strings.Split(line, ";") {
		k, v, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

//nolint:gochecknoglobals // static prompts
var questions = map[string]string{
	"service_type":     "What type of service are you looking for?",
	"location":         "Where should the service take place?",
	"timing":           "When would you like this done?",
	"provider_id":      "Which provider would you like to book?",
	"name":             "What name should we use for your business profile?",
	"services_offered": "Which services do you offer?",
	"request_id":       "Which request is this offer for?",
	"price":            "What price would you like to offer?",
	"available_date":   "Which date are you available?",
	"available_time":   "What time works for you?",
}

func askFor(field string) string {
	if q, ok := questions[field]; ok {
		return q
	}
	return fmt.Sprintf("Could you tell me your %s?", strings.ReplaceAll(field, "_", " "))
}

func requestSummary(known map[string]string) string {
	var b strings.Builder
	b.WriteString("Here is your request summary:\n")
	if v := known["service_type"]; v != "" {
		fmt.Fprintf(&b, "- Service: %s\n", v)
	}
	if v := known["location"]; v != "" {
		fmt.Fprintf(&b, "- Location: %s\n", v)
	}
	minB, maxB := known["budget_min"], known["budget_max"]
	switch {
	case minB != "" && maxB != "":
		fmt.Fprintf(&b, "- Budget: $%s-$%s\n", minB, maxB)
	case maxB != "":
		fmt.Fprintf(&b, "- Budget: up to $%s\n", maxB)
	case minB != "":
		fmt.Fprintf(&b, "- Budget: from $%s\n", minB)
	}
	if v := known["timing"]; v != "" {
		fmt.Fprintf(&b, "- Timing: %s\n", strings.ReplaceAll(v, "_", " "))
	}
	b.WriteString("Ready to post?\n[button: Post request | approve_request] [button: Edit | edit_request]")
	return b.String()
}

func summarizeToolResults(results []llm.CompletionMessage) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, summarizeToolResult(res.Name, res.Content))
	}
	return strings.Join(parts, "\n")
}

func summarizeToolResult(name, content string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return fmt.Sprintf("%s finished.", name)
	}
	if msg, ok := payload["error"].(string); ok {
		return fmt.Sprintf("Sorry, %s failed: %s", name, msg)
	}
	switch name {
	case "get_matching_requests":
		reqs, _ := payload["requests"].([]any)
		if len(reqs) == 0 {
			return "There are no matching leads right now."
		}
		lines := []string{fmt.Sprintf("I found %d matching leads:", len(reqs))}
		for i, r := range reqs {
			lead, _ := r.(map[string]any)
			lines = append(lines, fmt.Sprintf("%d. %v in %v", i+1, lead["service_type"], lead["location"]))
		}
		return strings.Join(lines, "\n")
	case "suggest_offer":
		s, _ := payload["suggestion"].(map[string]any)
		price, _ := s["recommended_price"].(float64)
		low, _ := s["price_low"].(float64)
		high, _ := s["price_high"].(float64)
		return fmt.Sprintf("I suggest offering $%.2f for request %v (range $%.2f-$%.2f).",
			price, s["request_id"], low, high)
	case "get_service_catalog":
		cats, _ := payload["categories"].([]any)
		names := make([]string, 0, len(cats))
		for _, c := range cats {
			if cat, ok := c.(map[string]any); ok {
				names = append(names, fmt.Sprint(cat["name"]))
			}
		}
		return "Here are the services you can offer: " + strings.Join(names, ", ") + ". Which ones do you provide?"
	case "get_offers":
		offers, _ := payload["offers"].([]any)
		return fmt.Sprintf("You have %d offers to compare.", len(offers))
	}
	return fmt.Sprintf("Done. %s completed.", strings.ReplaceAll(name, "_", " "))
}

// Heuristic extraction patterns.
//
//nolint:gochecknoglobals // compiled once
var (
	locationRe   = regexp.MustCompile(`\b(?:in|at|near)\s+([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*)`)
	budgetPairRe = regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?)\s*(?:-|to)\s*\$?\s*(\d+(?:\.\d+)?)`)
	budgetOneRe  = regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?)`)
	hairTypeRe   = regexp.MustCompile(`\b([1-4][abcABC])\b`)
	nameRe       = regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][a-zA-Z'-]*(?:\s+[A-Z][a-zA-Z'-]*)?)`)
	emailRe      = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`)
	phoneRe      = regexp.MustCompile(`\+?\d[\d\s().-]{8,}\d`)
	yearsRe      = regexp.MustCompile(`(?i)(\d+)\s+years?`)
	radiusRe     = regexp.MustCompile(`(?i)(\d+)\s*(?:miles?|mi|km)\b`)
	businessRe   = regexp.MustCompile(`(?i)business(?:\s+name)?\s+is\s+(?:called\s+)?([A-Z][\w&' ]*[\w])`)
	priceRe      = regexp.MustCompile(`(?i)(?:offer|price|charge)\D{0,12}\$?\s*(\d+(?:\.\d+)?)`)
)

//nolint:gochecknoglobals // static keyword table
var serviceKeywords = []struct {
	service  string
	keywords []string
}{
	{"haircut", []string{"haircut", "hair", "braid", "trim", "barber", "stylist"}},
	{"cleaning", []string{"clean", "maid", "housekeep"}},
	{"plumbing", []string{"plumb", "leak", "pipe", "drain", "toilet", "faucet"}},
}

//nolint:gochecknoglobals // static keyword table
var timingKeywords = []struct {
	value    string
	keywords []string
}{
	{"asap", []string{"asap", "urgent", "right away", "immediately"}},
	{"today", []string{"today", "tonight"}},
	{"tomorrow", []string{"tomorrow"}},
	{"next_week", []string{"next week"}},
	{"this_week", []string{"this weekend", "this week", "weekend", "saturday", "sunday"}},
	{"flexible", []string{"flexible", "whenever", "any time", "anytime"}},
}

// ExtractFactsHeuristic pulls context facts out of free text with keyword
// and pattern rules. role selects enrollment-only facets.
func ExtractFactsHeuristic(text, role string) map[string]any {
	facts := map[string]any{}
	lower := strings.ToLower(text)

	var services []string
	for _, sk := range serviceKeywords {
		for _, kw := range sk.keywords {
			if strings.Contains(lower, kw) {
				services = append(services, sk.service)
				break
			}
		}
	}
	if len(services) > 0 {
		if role == "enrollment" {
			facts["services_offered"] = services
		} else {
			facts["service_type"] = services[0]
		}
	}

	if m := locationRe.FindStringSubmatch(text); m != nil {
		facts["location"] = m[1]
	}

	if m := budgetPairRe.FindStringSubmatch(text); m != nil {
		facts["budget_min"] = parseNumber(m[1])
		facts["budget_max"] = parseNumber(m[2])
	} else if m := budgetOneRe.FindStringSubmatch(text); m != nil && role != "provider" {
		facts["budget_max"] = parseNumber(m[1])
	}

	for _, tk := range timingKeywords {
		matched := false
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if matched {
			facts["timing"] = tk.value
			break
		}
	}

	prefs := map[string]any{}
	if m := hairTypeRe.FindStringSubmatch(text); m != nil {
		prefs["hair_type"] = strings.ToUpper(m[1])
	}
	for _, texture := range []string{"coily", "kinky", "curly", "wavy", "straight"} {
		if strings.Contains(lower, texture) {
			prefs["hair_texture"] = texture
			break
		}
	}
	if len(prefs) > 0 {
		facts["preferences"] = prefs
	}

	if m := nameRe.FindStringSubmatch(text); m != nil {
		facts["name"] = strings.TrimSpace(m[1])
	}
	email := emailRe.FindString(text)
	if email != "" {
		facts["email"] = email
	}
	if m := phoneRe.FindString(text); m != "" && !strings.Contains(email, m) {
		facts["phone"] = strings.TrimSpace(m)
	}

	if role == "enrollment" {
		if m := yearsRe.FindStringSubmatch(text); m != nil {
			facts["years_experience"] = parseNumber(m[1])
		}
		if m := radiusRe.FindStringSubmatch(text); m != nil {
			facts["service_radius"] = parseNumber(m[1])
		}
		if m := businessRe.FindStringSubmatch(text); m != nil {
			facts["business_name"] = strings.TrimSpace(m[1])
		}
	}
	if role == "provider" {
		if m := priceRe.FindStringSubmatch(text); m != nil {
			facts["price"] = parseNumber(m[1])
		}
	}
	return facts
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
