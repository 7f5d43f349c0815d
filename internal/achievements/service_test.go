package achievements

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	unlocks map[int64]map[string]bool
}

func newMemStore() *memStore {
	return &memStore{unlocks: make(map[int64]map[string]bool)}
}

func (s *memStore) Unlock(_ context.Context, _ database.Querier, userID int64, achievementID string) (bool, error) {
	if s.unlocks[userID] == nil {
		s.unlocks[userID] = make(map[string]bool)
	}
	if s.unlocks[userID][achievementID] {
		return false, nil
	}
	s.unlocks[userID][achievementID] = true
	return true, nil
}

func (s *memStore) Unlocks(_ context.Context, _ database.Querier, userID int64) ([]domain.AchievementUnlock, error) {
	var out []domain.AchievementUnlock
	for id := range s.unlocks[userID] {
		out = append(out, domain.AchievementUnlock{UserID: userID, AchievementID: id})
	}
	return out, nil
}

func (s *memStore) HasUnlock(_ context.Context, _ database.Querier, userID int64, achievementID string) (bool, error) {
	return s.unlocks[userID][achievementID], nil
}

func testDefinitions() []domain.Achievement {
	return []domain.Achievement{
		{ID: "sharp_eyes", Title: "Sharp Eyes"},
		{ID: "saver", Title: "Saver", Criterion: domain.Criterion{Kind: domain.CriterionBalanceAtLeast, Threshold: 200}},
		{ID: "veteran", Title: "Veteran", Criterion: domain.Criterion{Kind: domain.CriterionLifetimeEarned, Threshold: 500}},
		{ID: "tower_topper", Title: "Tower Topper", Criterion: domain.Criterion{Kind: domain.CriterionFragmentCompleted, FragmentID: "bell_tower"}},
	}
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	registry, err := NewRegistry(testDefinitions())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := newMemStore()
	return NewService(registry, store, testLogger()), store
}

func TestUnlockRecordsOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	achievement, created, err := svc.Unlock(ctx, nil, 1, "sharp_eyes")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !created || achievement.Title != "Sharp Eyes" {
		t.Fatalf("unexpected first unlock: created=%v achievement=%+v", created, achievement)
	}

	_, created, err = svc.Unlock(ctx, nil, 1, "sharp_eyes")
	if err != nil {
		t.Fatalf("repeat Unlock: %v", err)
	}
	if created {
		t.Fatalf("repeat unlock reported as newly created")
	}
}

func TestUnlockUnknownAchievement(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Unlock(context.Background(), nil, 1, "nonexistent")
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEvaluateCriteria(t *testing.T) {
	tests := []struct {
		name  string
		facts Facts
		want  []string
	}{
		{
			name:  "nothing satisfied",
			facts: Facts{Balance: 10, LifetimeEarned: 10},
			want:  nil,
		},
		{
			name:  "balance threshold",
			facts: Facts{Balance: 200, LifetimeEarned: 250},
			want:  []string{"saver"},
		},
		{
			name:  "fragment completion",
			facts: Facts{CompletedFragmentID: "bell_tower"},
			want:  []string{"tower_topper"},
		},
		{
			name:  "several at once",
			facts: Facts{Balance: 300, LifetimeEarned: 600, CompletedFragmentID: "bell_tower"},
			want:  []string{"saver", "veteran", "tower_topper"},
		},
		{
			name:  "wrong fragment",
			facts: Facts{CompletedFragmentID: "crossroads"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)

			unlocked, err := svc.Evaluate(context.Background(), nil, 1, tt.facts)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if len(unlocked) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, unlocked)
			}
			for i, id := range tt.want {
				if unlocked[i].ID != id {
					t.Fatalf("expected %s at position %d, got %s", id, i, unlocked[i].ID)
				}
			}
		})
	}
}

func TestEvaluateSkipsHeldUnlocks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	facts := Facts{Balance: 250, LifetimeEarned: 250}

	first, err := svc.Evaluate(ctx, nil, 1, facts)
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	if len(first) != 1 || first[0].ID != "saver" {
		t.Fatalf("expected saver unlock, got %+v", first)
	}

	second, err := svc.Evaluate(ctx, nil, 1, facts)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("re-evaluation unlocked again: %+v", second)
	}
}

func TestEvaluateTriggerOnlyDefinitionsIgnored(t *testing.T) {
	svc, store := newTestService(t)

	unlocked, err := svc.Evaluate(context.Background(), nil, 1, Facts{Balance: 1000, LifetimeEarned: 1000, CompletedFragmentID: "bell_tower"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for _, a := range unlocked {
		if a.ID == "sharp_eyes" {
			t.Fatalf("trigger-only achievement unlocked by criterion evaluation")
		}
	}
	if store.unlocks[1]["sharp_eyes"] {
		t.Fatalf("trigger-only achievement recorded by evaluation")
	}
}
