package keyboard_test

import (
	"testing"

	"github.com/questline/questline-bot/internal/bot/keyboard"
)

func TestPaginationButtons(t *testing.T) {
	translator := &mockTranslator{
		translations: map[string]string{
			"pagination.prev": "◀️ Prev",
			"pagination.next": "Next ▶️",
			"pagination.page": "Page {{.Page}}/{{.Total}}",
		},
	}

	testCases := []struct {
		name      string
		page      int
		total     int
		wantCount int
		wantTexts []string
	}{
		{
			name:      "first page",
			page:      1,
			total:     3,
			wantCount: 2,
			wantTexts: []string{"Page 1/3", "Next ▶️"},
		},
		{
			name:      "middle page",
			page:      2,
			total:     3,
			wantCount: 3,
			wantTexts: []string{"◀️ Prev", "Page 2/3", "Next ▶️"},
		},
		{
			name:      "last page",
			page:      3,
			total:     3,
			wantCount: 2,
			wantTexts: []string{"◀️ Prev", "Page 3/3"},
		},
		{
			name:      "single page",
			page:      1,
			total:     1,
			wantCount: 1,
			wantTexts: []string{"Page 1/1"},
		},
		{
			name:      "page clamped to total",
			page:      9,
			total:     2,
			wantCount: 2,
			wantTexts: []string{"◀️ Prev", "Page 2/2"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buttons := keyboard.PaginationButtons(translator, "unlocks", tc.page, tc.total)

			if len(buttons) != tc.wantCount {
				t.Fatalf("expected %d buttons, got %d", tc.wantCount, len(buttons))
			}
			for i, want := range tc.wantTexts {
				if buttons[i].Text != want {
					t.Fatalf("button %d: expected %q, got %q", i, want, buttons[i].Text)
				}
			}
		})
	}
}

func TestPaginationButtonsFallbackLabels(t *testing.T) {
	buttons := keyboard.PaginationButtons(nil, "unlocks", 2, 3)

	if len(buttons) != 3 {
		t.Fatalf("expected 3 buttons, got %d", len(buttons))
	}
	if buttons[1].Text != "Page 2/3" {
		t.Fatalf("expected fallback page label, got %q", buttons[1].Text)
	}
}
