package search

import (
	"strings"

	"github.com/sells-group/lexleads/internal/model"
)

// DefaultQualifier is appended to the event when no qualifier is configured.
const DefaultQualifier = "lawyer"

// BuildQuery composes the search phrase
// "<event> <qualifier> in <location> <contactPerson>". Unknown intent fields
// are skipped and whitespace is collapsed.
func BuildQuery(in model.Intent, qualifier string) string {
	if strings.TrimSpace(qualifier) == "" {
		qualifier = DefaultQualifier
	}

	var parts []string
	if model.IsKnown(in.Event) {
		parts = append(parts, in.Event)
	}
	parts = append(parts, qualifier)
	if model.IsKnown(in.Location) {
		parts = append(parts, "in", in.Location)
	}
	if model.IsKnown(in.ContactPerson) {
		parts = append(parts, in.ContactPerson)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
