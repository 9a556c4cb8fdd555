// Package prompts renders the concierge system prompt for each role.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"proxie/pkg/agent"
	"proxie/pkg/logx"
	"proxie/pkg/session"
)

//go:embed *.tpl.md
var templateFS embed.FS

// Template names.
const (
	ConsumerTemplate   = "consumer.tpl.md"
	ProviderTemplate   = "provider.tpl.md"
	EnrollmentTemplate = "enrollment.tpl.md"
)

// MarkerMissingOptional introduces the optional-fields line.
const MarkerMissingOptional = "Missing optional information:"

// Data is what the role templates see.
type Data struct {
	KnownList           string
	MissingRequiredList string
	MissingOptionalList string
	Guest               bool
}

//nolint:gochecknoglobals // parsed once from the embedded templates
var templates = template.Must(template.New("prompts").ParseFS(templateFS, "*.tpl.md"))

// TemplateFor returns the template serving role. Unknown roles use the
// consumer template.
func TemplateFor(role session.Role) string {
	switch role {
	case session.RoleProvider:
		return ProviderTemplate
	case session.RoleEnrollment:
		return EnrollmentTemplate
	case session.RoleConsumer, session.RoleGuest:
		return ConsumerTemplate
	}
	return ConsumerTemplate
}

// System builds the system prompt for role. It opens with machine-readable
// lines naming the role, the known facts and the missing fields, followed by
// the role's instructions.
func System(role session.Role, known map[string]any, missingRequired, missingOptional []string) string {
	if role == "" {
		role = session.RoleGuest
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", agent.MarkerRole, role)
	fmt.Fprintf(&b, "%s %s\n", agent.MarkerKnown, KnownLine(known))
	fmt.Fprintf(&b, "%s %s\n", agent.MarkerMissingRequired, listLine(missingRequired))
	fmt.Fprintf(&b, "%s %s\n\n", MarkerMissingOptional, listLine(missingOptional))

	data := Data{
		KnownList:           bulletList(known),
		MissingRequiredList: listOrNothing(missingRequired),
		MissingOptionalList: listOrNothing(missingOptional),
		Guest:               role == session.RoleGuest,
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, TemplateFor(role), data); err != nil {
		logx.NewLogger("prompts").Error("failed to render %s prompt: %v", role, err)
		return b.String()
	}
	b.Write(buf.Bytes())
	return b.String()
}

// KnownLine renders facts as "k=v; k=v" in key order.
func KnownLine(known map[string]any) string {
	if len(known) == 0 {
		return "none"
	}
	keys := sortedKeys(known)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flatten(FormatValue(known[k])))
	}
	return strings.Join(parts, "; ")
}

// FormatValue renders a fact value for display. Whole numbers drop their
// decimals.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case *float64:
		if x == nil {
			return ""
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case *int:
		if x == nil {
			return ""
		}
		return strconv.Itoa(*x)
	case bool:
		return strconv.FormatBool(x)
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, FormatValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := sortedKeys(x)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+FormatValue(x[k]))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, ";", ",")
	return strings.Join(strings.Fields(s), " ")
}

func listLine(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func listOrNothing(items []string) string {
	if len(items) == 0 {
		return "Nothing."
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

func bulletList(known map[string]any) string {
	if len(known) == 0 {
		return "Nothing yet."
	}
	keys := sortedKeys(known)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, FormatValue(known[k])))
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
