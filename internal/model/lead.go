package model

import "strings"

// Sentinel marks a field the model could not determine.
const Sentinel = "-"

// Intent is the structured form of a free-text legal-services query.
type Intent struct {
	Event         string `json:"event"`
	Location      string `json:"location"`
	ContactPerson string `json:"contactPerson"`
	Phone         string `json:"phone"`
}

// Normalize replaces blank fields with the sentinel.
func (i Intent) Normalize() Intent {
	i.Event = orSentinel(i.Event)
	i.Location = orSentinel(i.Location)
	i.ContactPerson = orSentinel(i.ContactPerson)
	i.Phone = orSentinel(i.Phone)
	return i
}

// SearchResult is a source link discovered during search.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// RawSearchPayload is the envelope every search strategy returns. When Error
// is set, Text must not be passed downstream.
type RawSearchPayload struct {
	Text         string         `json:"text"`
	Links        []SearchResult `json:"links"`
	Error        bool           `json:"error,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Strategy     string         `json:"strategy,omitempty"`
	Grounded     bool           `json:"grounded"`
}

// Lead is one structured contact record.
type Lead struct {
	LawFirm   string `json:"lawFirm"`
	Contact   string `json:"contact"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	SourceURL string `json:"sourceUrl"`
}

// Normalize replaces blank fields with the sentinel.
func (l Lead) Normalize() Lead {
	l.LawFirm = orSentinel(l.LawFirm)
	l.Contact = orSentinel(l.Contact)
	l.Phone = orSentinel(l.Phone)
	l.Address = orSentinel(l.Address)
	l.SourceURL = orSentinel(l.SourceURL)
	return l
}

// Empty reports whether no field carries a real value.
func (l Lead) Empty() bool {
	for _, f := range l.Fields() {
		if IsKnown(f) {
			return false
		}
	}
	return true
}

// Fields returns the lead's values in export column order.
func (l Lead) Fields() []string {
	return []string{l.LawFirm, l.Contact, l.Phone, l.Address, l.SourceURL}
}

// IsKnown reports whether v carries a real value.
func IsKnown(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && v != Sentinel
}

func orSentinel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Sentinel
	}
	return v
}
