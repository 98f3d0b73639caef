package classify

import (
	"encoding/json"
	"strings"
)

const systemPrompt = "You categorize personal finance transactions. " +
	"Pick exactly one category per transaction from the allowed list. " +
	"Give a confidence between 0 and 1 and lower it when the merchant is ambiguous. " +
	"When a merchant prefix would reliably identify similar transactions, suggest a glob " +
	"pattern such as \"WHOLEFDS*\" in rule_pattern. " +
	"Return ONLY JSON matching the schema, no markdown."

// BuildPrompt renders the user part of the request.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Allowed categories: ")
	b.WriteString(strings.Join(req.Categories, ", "))
	b.WriteString("\n\n")

	if len(req.Rules) > 0 {
		b.WriteString("Existing rules (pattern -> category):\n")
		for _, r := range req.Rules {
			b.WriteString("- " + r.Pattern + " -> " + r.Category + "\n")
		}
		b.WriteString("\n")
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		b.WriteString("Household notes:\n" + notes + "\n\n")
	}

	items, _ := json.Marshal(req.Items)
	b.WriteString("Transactions:\n")
	b.Write(items)
	b.WriteString("\n\nRespond with {\"categorizations\": [...]} holding one entry per transaction_id.")
	return b.String()
}

// cleanModelJSON strips markdown fences and any prose around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
