// Package template renders channel-specific alert messages from the raw
// webhook payload using {{variable}} substitution. Rendering never fails:
// a malformed payload degrades to the default rendering with N/A values.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"hookrelay/internal/models"
)

var variablePattern = regexp.MustCompile(`{{(\w+)}}`)

// Variables holds the substitution values extracted from an alert
// payload. Arbitrary payload fields are allowed; well-known trading
// fields get N/A fallbacks in the default templates.
type Variables map[string]string

// VariablesFromPayload flattens a JSON payload into template variables.
// Nested values are rendered with their JSON encoding. A payload that is
// not a JSON object yields an empty set rather than an error.
func VariablesFromPayload(raw json.RawMessage) Variables {
	vars := make(Variables)
	if len(raw) == 0 {
		return vars
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return vars
	}

	for key, value := range fields {
		switch v := value.(type) {
		case string:
			vars[key] = v
		case float64:
			vars[key] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		case bool:
			vars[key] = fmt.Sprintf("%t", v)
		case nil:
			vars[key] = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			vars[key] = string(encoded)
		}
	}
	return vars
}

// Process substitutes {{key}} occurrences in the template with the
// matching variable; unknown variables render as N/A.
func Process(template string, vars Variables) string {
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		key := variablePattern.FindStringSubmatch(match)[1]
		if value, ok := vars[key]; ok && value != "" {
			return value
		}
		return "N/A"
	})
}

// Render produces the message for a channel type from a raw alert payload
// using the channel's default template.
func Render(channelType models.ChannelType, raw json.RawMessage) string {
	return Process(DefaultTemplate(channelType), VariablesFromPayload(raw))
}

// ExtractVariables lists the distinct variable names used in a template.
func ExtractVariables(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, match := range variablePattern.FindAllStringSubmatch(template, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}

// DefaultTemplate returns the built-in template for a channel type.
// Unknown types fall back to the Telegram rendering.
func DefaultTemplate(channelType models.ChannelType) string {
	switch channelType {
	case models.ChannelDiscord:
		return "📈 **Alert**\n\n**Ticker:** {{ticker}}\n**Price:** ${{close}}\n**Exchange:** {{exchange}}\n**Timeframe:** {{timeframe}}\n\n{{msg}}"
	case models.ChannelSlack:
		return "📈 *Alert*\n\n*Ticker:* {{ticker}}\n*Price:* ${{close}}\n*Exchange:* {{exchange}}\n*Timeframe:* {{timeframe}}\n\n{{msg}}"
	case models.ChannelEmail:
		return "Alert\n\nTicker: {{ticker}}\nPrice: ${{close}}\nExchange: {{exchange}}\nTimeframe: {{timeframe}}\n\nMessage: {{msg}}"
	case models.ChannelTwitter:
		return "📈 Alert: {{ticker}} at ${{close}} on {{exchange}} ({{timeframe}})\n\n{{msg}}"
	default:
		return "📈 *Alert*\n\n*Ticker:* {{ticker}}\n*Price:* ${{close}}\n*Exchange:* {{exchange}}\n*Timeframe:* {{timeframe}}\n\n{{msg}}"
	}
}

// Validate checks a custom template for malformed variable syntax.
func Validate(template string) []string {
	var errs []string

	if strings.TrimSpace(template) == "" {
		errs = append(errs, "template cannot be empty")
	}

	if strings.Count(template, "{{") != strings.Count(template, "}}") {
		errs = append(errs, "unbalanced variable braces")
	}

	return errs
}
