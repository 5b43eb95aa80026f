package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestLeadNormalize(t *testing.T) {
	l := Lead{LawFirm: " Smith & Co ", Contact: "", Phone: "   "}.Normalize()

	assert.Equal(t, "Smith & Co", l.LawFirm)
	assert.Equal(t, Sentinel, l.Contact)
	assert.Equal(t, Sentinel, l.Phone)
	assert.Equal(t, Sentinel, l.Address)
	assert.Equal(t, Sentinel, l.SourceURL)
}

func TestIntentNormalize(t *testing.T) {
	in := Intent{Event: "Divorce", Location: "Beijing"}.Normalize()

	assert.Equal(t, Intent{Event: "Divorce", Location: "Beijing", ContactPerson: "-", Phone: "-"}, in)
}

func TestLeadFields(t *testing.T) {
	l := Lead{LawFirm: "A", Contact: "B", Phone: "C", Address: "D", SourceURL: "E"}
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, l.Fields())
}

func TestLeadEmpty(t *testing.T) {
	assert.True(t, Lead{}.Normalize().Empty())
	assert.True(t, Lead{LawFirm: "-", Phone: " "}.Empty())
	assert.False(t, Lead{Phone: "010-1234"}.Normalize().Empty())
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown("x"))
	assert.False(t, IsKnown("-"))
	assert.False(t, IsKnown(" "))
}

func TestWorkflowStatus(t *testing.T) {
	tests := []struct {
		status   WorkflowStatus
		terminal bool
		active   bool
	}{
		{StatusIdle, false, false},
		{StatusIdentifying, false, true},
		{StatusSearching, false, true},
		{StatusProcessing, false, true},
		{StatusComplete, true, false},
		{StatusError, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, WorkflowStatus("bogus").Valid())
}

func TestStageError(t *testing.T) {
	inner := errors.New("boom")
	err := eris.Wrap(NewStageError(KindIntentExtraction, "extract intent", inner), "workflow")

	assert.True(t, IsKind(err, KindIntentExtraction))
	assert.False(t, IsKind(err, KindSearch))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "intent_extraction: extract intent: boom")
	assert.False(t, IsKind(errors.New("plain"), KindSearch))
}
