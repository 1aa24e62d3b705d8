package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAssetKind(t *testing.T) {
	tests := []struct {
		in   string
		want AssetKind
		ok   bool
	}{
		{"icon", AssetKindIcon, true},
		{" Cover ", AssetKindCover, true},
		{"TEXTURE", AssetKindTexture, true},
		{"header", AssetKindHeader, true},
		{"banner", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAssetKind(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestItemStateTerminal(t *testing.T) {
	terminal := []ItemState{StateCommitted, StateFailed, StateSkipped, StateBudgetExhausted}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	live := []ItemState{StateDiscovered, StatePromptCompetition, StatePendingApproval, StateSynthesizing, StateSaving}
	for _, s := range live {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestCheckpointDone(t *testing.T) {
	var nilCP *Checkpoint
	assert.False(t, nilCP.Done("icon-a"))

	cp := &Checkpoint{Completed: map[string]struct{}{"icon-a": {}}}
	assert.True(t, cp.Done("icon-a"))
	assert.False(t, cp.Done("icon-b"))
}

func TestDecisionAllows(t *testing.T) {
	tests := []struct {
		name       string
		d          Decision
		assetID    string
		wantOK     bool
		wantPrompt string
	}{
		{
			name:       "approve passes everything through",
			d:          Decision{Action: DecisionApprove},
			assetID:    "icon-a",
			wantOK:     true,
			wantPrompt: "original",
		},
		{
			name:       "reject blocks",
			d:          Decision{Action: DecisionReject},
			assetID:    "icon-a",
			wantOK:     false,
			wantPrompt: "original",
		},
		{
			name:       "partial allows named ids",
			d:          Decision{Action: DecisionPartial, ApprovedIDs: []string{"icon-a"}},
			assetID:    "icon-a",
			wantOK:     true,
			wantPrompt: "original",
		},
		{
			name:       "partial blocks unnamed ids",
			d:          Decision{Action: DecisionPartial, ApprovedIDs: []string{"icon-a"}},
			assetID:    "icon-b",
			wantOK:     false,
			wantPrompt: "original",
		},
		{
			name:       "modify substitutes the edited prompt",
			d:          Decision{Action: DecisionModify, EditedPrompts: map[string]string{"icon-a": "edited"}},
			assetID:    "icon-a",
			wantOK:     true,
			wantPrompt: "edited",
		},
		{
			name:       "modify without an edit keeps the original",
			d:          Decision{Action: DecisionModify, EditedPrompts: map[string]string{"icon-b": "edited"}},
			assetID:    "icon-a",
			wantOK:     true,
			wantPrompt: "original",
		},
		{
			name:       "empty edit is ignored",
			d:          Decision{Action: DecisionModify, EditedPrompts: map[string]string{"icon-a": ""}},
			assetID:    "icon-a",
			wantOK:     true,
			wantPrompt: "original",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, prompt := tt.d.Allows(tt.assetID, "original")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPrompt, prompt)
		})
	}
}
