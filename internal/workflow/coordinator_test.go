package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/ledger"
	"github.com/questline/questline-bot/internal/narrative"
	"github.com/questline/questline-bot/internal/userlock"
)

const testUserID = int64(42)

// fakeUOW runs the function directly; the in-memory stores below have no
// transactional behavior to coordinate.
type fakeUOW struct{}

func (f *fakeUOW) WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	return fn(ctx, nil)
}

func (f *fakeUOW) DB() database.Querier { return nil }

type memLedgerStore struct {
	mu       sync.Mutex
	balances map[int64]int64
	entries  []*domain.LedgerEntry
	grants   []*domain.AccessGrant
	nextID   int64
}

func newMemLedgerStore(seedBalance int64) *memLedgerStore {
	return &memLedgerStore{
		balances: map[int64]int64{testUserID: seedBalance},
	}
}

func (m *memLedgerStore) FindEntryByKey(_ context.Context, _ database.Querier, key string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.IdempotencyKey == key {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memLedgerStore) AppendEntry(_ context.Context, _ database.Querier, entry *domain.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLedgerStore) AdjustBalance(_ context.Context, _ database.Querier, userID, delta int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok || balance+delta < 0 {
		return 0, false, nil
	}
	m.balances[userID] = balance + delta
	return balance + delta, true, nil
}

func (m *memLedgerStore) Balance(_ context.Context, _ database.Querier, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memLedgerStore) SumEntries(_ context.Context, _ database.Querier, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *memLedgerStore) Entries(_ context.Context, _ database.Querier, userID int64) ([]*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLedgerStore) LastEntryBySource(_ context.Context, _ database.Querier, userID int64, source string) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID && m.entries[i].Source == source {
			return m.entries[i], nil
		}
	}
	return nil, nil
}

func (m *memLedgerStore) FindGrantByKey(_ context.Context, _ database.Querier, key string) (*domain.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.IdempotencyKey == key {
			return g, nil
		}
	}
	return nil, nil
}

func (m *memLedgerStore) ActiveGrant(_ context.Context, _ database.Querier, userID int64) (*domain.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.grants) - 1; i >= 0; i-- {
		if m.grants[i].UserID == userID && m.grants[i].Active {
			return m.grants[i], nil
		}
	}
	return nil, nil
}

func (m *memLedgerStore) ActiveGrants(_ context.Context, _ database.Querier, userID int64) ([]*domain.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AccessGrant
	for _, g := range m.grants {
		if g.UserID == userID && g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memLedgerStore) AppendGrant(_ context.Context, _ database.Querier, grant *domain.AccessGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	grant.ID = m.nextID
	m.grants = append(m.grants, grant)
	return nil
}

func (m *memLedgerStore) DeactivateGrant(_ context.Context, _ database.Querier, grantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.grants {
		if g.ID == grantID {
			g.Active = false
		}
	}
	return nil
}

func (m *memLedgerStore) ExpireDue(_ context.Context, _ database.Querier, now time.Time) ([]*domain.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*domain.AccessGrant
	for _, g := range m.grants {
		if g.Active && g.ExpiresAt.Before(now) {
			g.Active = false
			expired = append(expired, g)
		}
	}
	return expired, nil
}

type memStates struct {
	mu     sync.Mutex
	states map[int64]*domain.UserNarrativeState
}

func newMemStates() *memStates {
	return &memStates{states: make(map[int64]*domain.UserNarrativeState)}
}

func (s *memStates) State(_ context.Context, _ database.Querier, userID int64) (*domain.UserNarrativeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, narrative.ErrStateNotFound
	}
	clone := *state
	clone.Visited = append([]string(nil), state.Visited...)
	clone.Completed = append([]string(nil), state.Completed...)
	clone.UnlockedKeys = append([]string(nil), state.UnlockedKeys...)
	return &clone, nil
}

func (s *memStates) Save(_ context.Context, _ database.Querier, state *domain.UserNarrativeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.states[state.UserID] = &clone
	return nil
}

type memContent struct {
	fragments map[string]*domain.Fragment
}

func (c *memContent) Fragment(_ context.Context, id string) (*domain.Fragment, error) {
	f, ok := c.fragments[id]
	if !ok {
		return nil, narrative.ErrFragmentNotFound
	}
	return f, nil
}

func (c *memContent) Fragments(_ context.Context) ([]*domain.Fragment, error) {
	var out []*domain.Fragment
	for _, f := range c.fragments {
		out = append(out, f)
	}
	return out, nil
}

type memUnlockStore struct {
	mu       sync.Mutex
	unlocked map[string]bool
}

func newMemUnlockStore() *memUnlockStore {
	return &memUnlockStore{unlocked: make(map[string]bool)}
}

func (m *memUnlockStore) key(userID int64, achievementID string) string {
	return fmt.Sprintf("%d/%s", userID, achievementID)
}

func (m *memUnlockStore) Unlock(_ context.Context, _ database.Querier, userID int64, achievementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(userID, achievementID)
	if m.unlocked[k] {
		return false, nil
	}
	m.unlocked[k] = true
	return true, nil
}

func (m *memUnlockStore) Unlocks(_ context.Context, _ database.Querier, userID int64) ([]domain.AchievementUnlock, error) {
	return nil, nil
}

func (m *memUnlockStore) HasUnlock(_ context.Context, _ database.Querier, userID int64, achievementID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked[m.key(userID, achievementID)], nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *capturingBus) Publish(_ context.Context, evts ...domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evts...)
}

func (b *capturingBus) byType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	coordinator *Coordinator
	store       *memLedgerStore
	states      *memStates
	bus         *capturingBus
}

func testFragments() map[string]*domain.Fragment {
	return map[string]*domain.Fragment{
		"intro": {
			ID:       "intro",
			Kind:     domain.FragmentStory,
			NextID:   "gate",
			Triggers: []domain.Effect{{Kind: domain.EffectCurrencyGrant, Amount: 25}},
		},
		"gate": {
			ID:   "gate",
			Kind: domain.FragmentDecision,
			Choices: []domain.Choice{
				{Label: "Push on", TargetID: "hall"},
			},
		},
		"hall": {
			ID:   "hall",
			Kind: domain.FragmentStory,
			Triggers: []domain.Effect{
				{Kind: domain.EffectKeyUnlock, Key: "hall_key"},
				{Kind: domain.EffectAchievementUnlock, AchievementID: "first_steps"},
			},
		},
	}
}

func newFixture(t *testing.T, seedBalance int64) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemLedgerStore(seedBalance)
	states := newMemStates()
	bus := &capturingBus{}

	registry, err := achievements.NewRegistry([]domain.Achievement{
		{ID: "first_steps", Title: "First Steps"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	machine := narrative.NewMachine(&memContent{fragments: testFragments()}, states, "intro", log)
	ledgerSvc := ledger.NewService(store, store, log)
	unlockSvc := achievements.NewService(registry, newMemUnlockStore(), log)
	locker := userlock.New(client, log).WithBounds(2*time.Second, 200*time.Millisecond)
	idem := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)

	coordinator := NewCoordinator(
		&fakeUOW{},
		machine,
		ledgerSvc,
		unlockSvc,
		locker,
		idem,
		bus,
		Rewards{DailyBonusAmount: 10, AccessPricePerDay: 50, MaxRedeemableDays: 30},
		log,
	)

	return &fixture{coordinator: coordinator, store: store, states: states, bus: bus}
}

func TestCoordinator_NarrativeStartGrantsTriggers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	result, err := f.coordinator.Execute(ctx, domain.UserAction{
		UserID:         testUserID,
		Kind:           domain.ActionNarrativeStart,
		IdempotencyKey: "start-1",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Fragment == nil || result.Fragment.ID != "intro" {
		t.Fatalf("unexpected fragment: %+v", result.Fragment)
	}
	if result.Balance != 25 {
		t.Fatalf("expected balance 25, got %d", result.Balance)
	}

	advanced := f.bus.byType(domain.EventNarrativeAdvanced)
	changed := f.bus.byType(domain.EventCurrencyChanged)
	if len(advanced) != 1 || len(changed) != 1 {
		t.Fatalf("expected 1 advanced + 1 currency event, got %d/%d", len(advanced), len(changed))
	}
	if advanced[0].CorrelationID == "" || advanced[0].CorrelationID != changed[0].CorrelationID {
		t.Fatal("events must share one correlation id")
	}
}

func TestCoordinator_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	action := domain.UserAction{
		UserID:         testUserID,
		Kind:           domain.ActionNarrativeStart,
		IdempotencyKey: "start-once",
	}

	first, err := f.coordinator.Execute(ctx, action)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := f.coordinator.Execute(ctx, action)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}

	if !second.Replayed {
		t.Fatal("expected replayed result")
	}
	if second.Balance != first.Balance {
		t.Fatalf("replay changed balance: %d vs %d", second.Balance, first.Balance)
	}
	if len(f.store.entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(f.store.entries))
	}
	if got := len(f.bus.byType(domain.EventCurrencyChanged)); got != 1 {
		t.Fatalf("replay must not republish, got %d currency events", got)
	}
}

func TestCoordinator_InvalidChoiceLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	if _, err := f.coordinator.Execute(ctx, domain.UserAction{
		UserID: testUserID, Kind: domain.ActionNarrativeStart, IdempotencyKey: "s1",
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.coordinator.Execute(ctx, domain.UserAction{
		UserID: testUserID, Kind: domain.ActionNarrativeContinue, IdempotencyKey: "c1",
	}); err != nil {
		t.Fatalf("continue: %v", err)
	}

	entriesBefore := len(f.store.entries)

	_, err := f.coordinator.Execute(ctx, domain.UserAction{
		UserID: testUserID, Kind: domain.ActionNarrativeChoice, ChoiceIndex: 5, IdempotencyKey: "bad",
	})
	if errors.CodeOf(err) != errors.CodeInvalidChoice {
		t.Fatalf("expected invalid choice, got %v", err)
	}

	if len(f.store.entries) != entriesBefore {
		t.Fatal("rejected workflow must not append ledger entries")
	}
}

func TestCoordinator_DailyBonusOncePerDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	first, err := f.coordinator.Execute(ctx, domain.UserAction{
		UserID: testUserID, Kind: domain.ActionDailyBonus, IdempotencyKey: "bonus-1",
	})
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Balance != 10 {
		t.Fatalf("expected balance 10, got %d", first.Balance)
	}

	_, err = f.coordinator.Execute(ctx, domain.UserAction{
		UserID: testUserID, Kind: domain.ActionDailyBonus, IdempotencyKey: "bonus-2",
	})
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected validation rejection, got %v", err)
	}
}

func TestCoordinator_RedeemAccess(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		seedBalance int64
		days        int
		expectCode  string
		expectLeft  int64
	}{
		{name: "successful redeem", seedBalance: 200, days: 3, expectLeft: 50},
		{name: "insufficient funds", seedBalance: 40, days: 1, expectCode: errors.CodeInsufficientFunds, expectLeft: 40},
		{name: "too many days", seedBalance: 10000, days: 60, expectCode: errors.CodeValidation, expectLeft: 10000},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.seedBalance)

			result, err := f.coordinator.Execute(ctx, domain.UserAction{
				UserID: testUserID, Kind: domain.ActionRedeemAccess, Days: tc.days, IdempotencyKey: "redeem",
			})

			if tc.expectCode != "" {
				if errors.CodeOf(err) != tc.expectCode {
					t.Fatalf("expected code %s, got %v", tc.expectCode, err)
				}
			} else {
				if err != nil {
					t.Fatalf("execute: %v", err)
				}
				if result.ExpiresAt == nil {
					t.Fatal("expected an expiry")
				}
				if len(f.bus.byType(domain.EventAccessChanged)) != 1 {
					t.Fatal("expected one access.changed event")
				}
			}

			if got := f.store.balances[testUserID]; got != tc.expectLeft {
				t.Fatalf("expected balance %d, got %d", tc.expectLeft, got)
			}
		})
	}
}

func TestCoordinator_ConcurrentDeductionsApplyExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	// Two concurrent redeems of the same user, each with its own key. The
	// per-user lock serializes them; a conflict means the section was busy
	// and the whole workflow is retried, never partially applied.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			action := domain.UserAction{
				UserID:         testUserID,
				Kind:           domain.ActionRedeemAccess,
				Days:           1,
				IdempotencyKey: fmt.Sprintf("redeem-%d", i),
			}

			var err error
			for attempt := 0; attempt < 20; attempt++ {
				_, err = f.coordinator.Execute(ctx, action)
				if errors.CodeOf(err) != errors.CodeConflict {
					break
				}
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent execute: %v", err)
		}
	}

	if got := f.store.balances[testUserID]; got != 0 {
		t.Fatalf("expected both deductions applied, balance %d", got)
	}

	entries, err := f.store.Entries(ctx, nil, testUserID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly 2 ledger entries, got %d", len(entries))
	}

	sum, err := f.store.SumEntries(ctx, nil, testUserID)
	if err != nil {
		t.Fatalf("sum entries: %v", err)
	}
	if sum != -100 {
		t.Fatalf("ledger replay %d does not match both deductions", sum)
	}
}

func TestCoordinator_KeyUnlockAndAchievementEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	steps := []domain.UserAction{
		{UserID: testUserID, Kind: domain.ActionNarrativeStart, IdempotencyKey: "s"},
		{UserID: testUserID, Kind: domain.ActionNarrativeContinue, IdempotencyKey: "c1"},
		{UserID: testUserID, Kind: domain.ActionNarrativeChoice, ChoiceIndex: 0, IdempotencyKey: "c2"},
	}

	var last *Result
	for _, step := range steps {
		var err error
		last, err = f.coordinator.Execute(ctx, step)
		if err != nil {
			t.Fatalf("step %s: %v", step.Kind, err)
		}
	}

	if len(last.Effects) != 2 {
		t.Fatalf("expected key + achievement effects, got %+v", last.Effects)
	}

	state, err := f.states.State(ctx, nil, testUserID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !state.HasKey("hall_key") {
		t.Fatal("expected hall_key unlocked")
	}

	if got := len(f.bus.byType(domain.EventAchievementUnlocked)); got != 1 {
		t.Fatalf("expected one achievement event, got %d", got)
	}
}
