package orchestrator

import (
	"regexp"
	"strings"

	"proxie/pkg/tools"
)

// UI hints derived from reply text.
const (
	HintTimePicker    = "time_picker"
	HintLocationInput = "location_input"
)

// Button is a quick reply the client may render.
type Button struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

//nolint:gochecknoglobals // compiled once
var buttonRe = regexp.MustCompile(`\[button:\s*([^|\]]+?)\s*\|\s*([a-z_]+)\s*\]`)

// ParseUI extracts "[button: Text | action]" markup from text. It returns
// the text without markup, the buttons in order and a hint inferred from
// the wording, "" when none applies.
func ParseUI(text string) (string, []Button, string) {
	var buttons []Button
	for _, m := range buttonRe.FindAllStringSubmatch(text, -1) {
		buttons = append(buttons, Button{Text: m[1], Action: m[2]})
	}
	clean := text
	if len(buttons) > 0 {
		lines := strings.Split(buttonRe.ReplaceAllString(clean, ""), "\n")
		for i := range lines {
			lines[i] = strings.TrimRight(lines[i], " \t")
		}
		clean = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	lower := strings.ToLower(clean)
	hint := ""
	switch {
	case strings.Contains(lower, "service catalog"):
		hint = tools.HintServiceSelector
	case strings.Contains(lower, "pick a time"):
		hint = HintTimePicker
	case strings.Contains(lower, "location?"):
		hint = HintLocationInput
	}
	return clean, buttons, hint
}
