package narrative

import (
	"strings"
	"testing"

	"github.com/questline/questline-bot/internal/domain"
)

func TestValidateGraph(t *testing.T) {
	testCases := []struct {
		name      string
		fragments []*domain.Fragment
		wantErr   string
	}{
		{
			name:      "valid graph",
			fragments: testGraph(),
		},
		{
			name: "duplicate id",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentStory},
				{ID: "a", Kind: domain.FragmentInfo},
			},
			wantErr: "duplicate fragment id",
		},
		{
			name: "dangling edge",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentStory, NextID: "missing"},
			},
			wantErr: "missing fragment",
		},
		{
			name: "edge into archived fragment",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentStory, NextID: "old"},
				{ID: "old", Kind: domain.FragmentStory, Archived: true},
			},
			wantErr: "archived fragment",
		},
		{
			name: "decision without choices",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentDecision},
			},
			wantErr: "no choices",
		},
		{
			name: "decision with default edge",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentDecision, NextID: "b", Choices: []domain.Choice{{Label: "go", TargetID: "b"}}},
				{ID: "b", Kind: domain.FragmentStory},
			},
			wantErr: "must not set next_id",
		},
		{
			name: "story with choices",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentStory, Choices: []domain.Choice{{Label: "go", TargetID: "a"}}},
			},
			wantErr: "must not have choices",
		},
		{
			name: "unknown kind",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: "cutscene"},
			},
			wantErr: "unknown kind",
		},
		{
			name: "invalid trigger",
			fragments: []*domain.Fragment{
				{ID: "a", Kind: domain.FragmentStory, Triggers: []domain.Effect{{Kind: domain.EffectCurrencyGrant, Amount: 0}}},
			},
			wantErr: "trigger 0 is invalid",
		},
		{
			name: "archived fragment skips edge checks",
			fragments: []*domain.Fragment{
				{ID: "old", Kind: domain.FragmentStory, NextID: "gone", Archived: true},
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateGraph(tc.fragments)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid graph, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
