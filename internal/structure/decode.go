package structure

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sells-group/lexleads/internal/model"
)

// DecodeLeads parses a model response into leads. It tries, in order: the
// whole (fence-stripped) text, the first balanced array in the text that
// parses, and the text with truncated strings and brackets closed (falling
// back to the elements completed before the cut). Anything else yields an
// empty list.
// Every returned lead is normalized; entries with no known field are dropped.
func DecodeLeads(text string) []model.Lead {
	body := stripFences(text)
	if body == "" {
		return []model.Lead{}
	}

	if leads, ok := parseLeads(body); ok {
		return leads
	}
	for from := 0; from < len(body); {
		idx := strings.IndexByte(body[from:], '[')
		if idx < 0 {
			break
		}
		if arr := firstBalancedArray(body[from+idx:]); arr != "" {
			if leads, ok := parseLeads(arr); ok {
				return leads
			}
		}
		from += idx + 1
	}
	if start := arrayStart(body); start >= 0 {
		if leads, ok := parseLeads(repairTruncatedJSON(body[start:])); ok {
			return leads
		}
		if complete := completedElements(body[start:]); complete != "" {
			if leads, ok := parseLeads(complete); ok {
				return leads
			}
		}
	}
	return []model.Lead{}
}

// parseLeads accepts a bare array or an object with a "leads" array.
func parseLeads(s string) ([]model.Lead, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	var raw []map[string]any
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, false
		}
	} else {
		var wrapped struct {
			Leads []map[string]any `json:"leads"`
		}
		if err := json.Unmarshal([]byte(s), &wrapped); err != nil || wrapped.Leads == nil {
			return nil, false
		}
		raw = wrapped.Leads
	}

	leads := make([]model.Lead, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		if l := leadFromMap(r); !l.Empty() {
			leads = append(leads, l)
		}
	}
	return leads, true
}

func leadFromMap(r map[string]any) model.Lead {
	return model.Lead{
		LawFirm:   pick(r, "lawFirm", "law_firm", "firm", "name"),
		Contact:   pick(r, "contact", "contactPerson", "contact_person"),
		Phone:     pick(r, "phone", "phoneNumber", "phone_number"),
		Address:   pick(r, "address"),
		SourceURL: pick(r, "sourceUrl", "sourceURL", "source_url", "url", "website"),
	}.Normalize()
}

func pick(r map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// Drop the info string ("json", "JSON", ...).
		if !strings.ContainsAny(text[:nl], "[{") {
			text = text[nl+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// arrayStart finds the first '[' that opens an array of objects, falling
// back to the first '[' at all.
func arrayStart(s string) int {
	first := -1
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		if first < 0 {
			first = i
		}
		rest := strings.TrimLeft(s[i+1:], " \t\r\n")
		if strings.HasPrefix(rest, "{") {
			return i
		}
	}
	return first
}

// firstBalancedArray returns the first complete [...] in s, skipping
// brackets inside strings.
func firstBalancedArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// completedElements cuts an array after its last fully closed element and
// closes it. s must start with '['.
func completedElements(s string) string {
	depth := 0
	inString := false
	escape := false
	last := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 1 && c == '}' {
				last = i
			}
		}
	}
	if last < 0 {
		return ""
	}
	return s[:last+1] + "]"
}

// repairTruncatedJSON closes an unterminated string and any unclosed
// brackets or braces.
func repairTruncatedJSON(text string) string {
	if len(text) == 0 {
		return text
	}

	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if escape {
		text = text[:len(text)-1]
	}
	if inString {
		text += `"`
	}

	for i := len(stack) - 1; i >= 0; i-- {
		text = strings.TrimRight(text, " \t\n\r,")
		// A dangling key ("name": or "name") cannot be closed validly.
		text = trimDanglingKey(text)
		text += string(stack[i])
	}
	return text
}

// trimDanglingKey drops a trailing `"key":` or `, "key"` left by truncation
// inside an object.
func trimDanglingKey(text string) string {
	trimmed := strings.TrimRight(text, " \t\n\r")
	if strings.HasSuffix(trimmed, ":") {
		trimmed = strings.TrimRight(strings.TrimSuffix(trimmed, ":"), " \t\n\r")
		if idx := lastStringStart(trimmed); idx >= 0 {
			trimmed = strings.TrimRight(trimmed[:idx], " \t\n\r,")
		}
		return trimmed
	}
	return text
}

// lastStringStart finds the opening quote of a string literal that ends the
// text.
func lastStringStart(text string) int {
	if !strings.HasSuffix(text, `"`) || len(text) < 2 {
		return -1
	}
	for i := len(text) - 2; i >= 0; i-- {
		if text[i] == '"' && (i == 0 || text[i-1] != '\\') {
			return i
		}
	}
	return -1
}
