package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/narrative"
	"github.com/questline/questline-bot/internal/userlock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUOW satisfies database.UnitOfWork without a database; the fakes
// below ignore the Querier entirely.
type fakeUOW struct{}

func (fakeUOW) WithinTx(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
	return fn(ctx, nil)
}

func (fakeUOW) DB() database.Querier { return nil }

type fakeEntries struct {
	entries []*domain.LedgerEntry
}

func (s *fakeEntries) FindEntryByKey(context.Context, database.Querier, string) (*domain.LedgerEntry, error) {
	return nil, nil
}

func (s *fakeEntries) AppendEntry(_ context.Context, _ database.Querier, entry *domain.LedgerEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeEntries) AdjustBalance(context.Context, database.Querier, int64, int64) (int64, bool, error) {
	return 0, false, nil
}

func (s *fakeEntries) Balance(context.Context, database.Querier, int64) (int64, error) {
	return 0, nil
}

func (s *fakeEntries) SumEntries(_ context.Context, _ database.Querier, userID int64) (int64, error) {
	var sum int64
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *fakeEntries) Entries(_ context.Context, _ database.Querier, userID int64) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeEntries) LastEntryBySource(context.Context, database.Querier, int64, string) (*domain.LedgerEntry, error) {
	return nil, nil
}

type fakeGrants struct {
	grants []*domain.AccessGrant
}

func (s *fakeGrants) FindGrantByKey(context.Context, database.Querier, string) (*domain.AccessGrant, error) {
	return nil, nil
}

func (s *fakeGrants) ActiveGrant(_ context.Context, _ database.Querier, userID int64) (*domain.AccessGrant, error) {
	for _, g := range s.grants {
		if g.UserID == userID && g.Active {
			return g, nil
		}
	}
	return nil, nil
}

func (s *fakeGrants) ActiveGrants(_ context.Context, _ database.Querier, userID int64) ([]*domain.AccessGrant, error) {
	var out []*domain.AccessGrant
	for _, g := range s.grants {
		if g.UserID == userID && g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeGrants) AppendGrant(_ context.Context, _ database.Querier, grant *domain.AccessGrant) error {
	s.grants = append(s.grants, grant)
	return nil
}

func (s *fakeGrants) DeactivateGrant(_ context.Context, _ database.Querier, grantID int64) error {
	for _, g := range s.grants {
		if g.ID == grantID {
			g.Active = false
		}
	}
	return nil
}

func (s *fakeGrants) ExpireDue(_ context.Context, _ database.Querier, now time.Time) ([]*domain.AccessGrant, error) {
	var expired []*domain.AccessGrant
	for _, g := range s.grants {
		if g.Active && g.Expired(now) {
			g.Active = false
			expired = append(expired, g)
		}
	}
	return expired, nil
}

type fakeUsers struct {
	users map[int64]*domain.User
}

func (s *fakeUsers) FindByTelegramID(_ context.Context, _ database.Querier, telegramID int64) (*domain.User, error) {
	return s.users[telegramID], nil
}

func (s *fakeUsers) Create(_ context.Context, _ database.Querier, user *domain.User) error {
	s.users[user.TelegramID] = user
	return nil
}

func (s *fakeUsers) UpgradeRole(context.Context, database.Querier, int64, domain.Role) (bool, error) {
	return false, nil
}

func (s *fakeUsers) SetRole(context.Context, database.Querier, int64, domain.Role) error {
	return nil
}

func (s *fakeUsers) TouchLastActive(context.Context, database.Querier, int64) error {
	return nil
}

func (s *fakeUsers) SetProjections(_ context.Context, _ database.Querier, telegramID int64, balance, lifetimeEarned int64, level int) error {
	u := s.users[telegramID]
	u.Balance = balance
	u.LifetimeEarned = lifetimeEarned
	u.Level = level
	return nil
}

func (s *fakeUsers) IDs(_ context.Context, _ database.Querier, afterID int64, limit int) ([]int64, error) {
	var out []int64
	for id := range s.users {
		if id > afterID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeStates struct {
	states map[int64]*domain.UserNarrativeState
}

func (s *fakeStates) State(_ context.Context, _ database.Querier, userID int64) (*domain.UserNarrativeState, error) {
	state, ok := s.states[userID]
	if !ok {
		return nil, narrative.ErrStateNotFound
	}
	return state, nil
}

func (s *fakeStates) Save(_ context.Context, _ database.Querier, state *domain.UserNarrativeState) error {
	s.states[state.UserID] = state
	return nil
}

type fakeContent struct {
	fragments map[string]*domain.Fragment
}

func (s *fakeContent) Fragment(_ context.Context, id string) (*domain.Fragment, error) {
	f, ok := s.fragments[id]
	if !ok {
		return nil, narrative.ErrFragmentNotFound
	}
	return f, nil
}

func (s *fakeContent) Fragments(context.Context) ([]*domain.Fragment, error) {
	var out []*domain.Fragment
	for _, f := range s.fragments {
		out = append(out, f)
	}
	return out, nil
}

type fakeUnlocks struct {
	unlocks []domain.AchievementUnlock
}

func (s *fakeUnlocks) Unlock(_ context.Context, _ database.Querier, userID int64, achievementID string) (bool, error) {
	s.unlocks = append(s.unlocks, domain.AchievementUnlock{UserID: userID, AchievementID: achievementID})
	return true, nil
}

func (s *fakeUnlocks) Unlocks(_ context.Context, _ database.Querier, userID int64) ([]domain.AchievementUnlock, error) {
	var out []domain.AchievementUnlock
	for _, u := range s.unlocks {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUnlocks) HasUnlock(_ context.Context, _ database.Querier, userID int64, achievementID string) (bool, error) {
	for _, u := range s.unlocks {
		if u.UserID == userID && u.AchievementID == achievementID {
			return true, nil
		}
	}
	return false, nil
}

type fixture struct {
	engine  *Engine
	entries *fakeEntries
	grants  *fakeGrants
	users   *fakeUsers
	states  *fakeStates
	content *fakeContent
	unlocks *fakeUnlocks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	registry, err := achievements.NewRegistry([]domain.Achievement{
		{ID: "sharp_eyes", Title: "Sharp Eyes"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	f := &fixture{
		entries: &fakeEntries{},
		grants:  &fakeGrants{},
		users:   &fakeUsers{users: make(map[int64]*domain.User)},
		states:  &fakeStates{states: make(map[int64]*domain.UserNarrativeState)},
		content: &fakeContent{fragments: make(map[string]*domain.Fragment)},
		unlocks: &fakeUnlocks{},
	}
	f.engine = NewEngine(
		fakeUOW{},
		f.entries,
		f.grants,
		f.users,
		f.states,
		f.content,
		f.unlocks,
		registry,
		userlock.New(client, testLogger()),
		testLogger(),
	)

	return f
}

func (f *fixture) seedUser(id int64, balance, lifetime int64, level int) {
	f.users.users[id] = &domain.User{
		TelegramID:     id,
		Role:           domain.RoleStandard,
		Balance:        balance,
		LifetimeEarned: lifetime,
		Level:          level,
	}
}

func (f *fixture) seedEntries(userID int64, amounts ...int64) {
	var running int64
	for i, a := range amounts {
		running += a
		f.entries.entries = append(f.entries.entries, &domain.LedgerEntry{
			ID:      int64(i + 1),
			UserID:  userID,
			Amount:  a,
			Balance: running,
		})
	}
}

func findingKinds(report *Report) []FindingKind {
	kinds := make([]FindingKind, 0, len(report.Findings))
	for _, f := range report.Findings {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func TestCheckUserCleanState(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 40, 50, 1)
	f.seedEntries(1, 25, 25, -10)

	report, err := f.engine.CheckUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("CheckUser: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report, got findings %v", findingKinds(report))
	}
}

func TestCheckUserDetectsBalanceDrift(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 999, 50, 1)
	f.seedEntries(1, 25, 25, -10)

	report, err := f.engine.CheckUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("CheckUser: %v", err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Kind != FindingBalanceDrift {
		t.Fatalf("expected balance drift, got %v", findingKinds(report))
	}
	if report.Findings[0].Expected != 40 || report.Findings[0].Actual != 999 {
		t.Fatalf("drift amounts wrong: %+v", report.Findings[0])
	}
	if report.Findings[0].Resolution != ResolutionDetected {
		t.Fatalf("check must never correct, got %s", report.Findings[0].Resolution)
	}
	if f.users.users[1].Balance != 999 {
		t.Fatalf("CheckUser mutated the projection")
	}
}

func TestRepairUserCorrectsProjectionDrift(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 999, 5, 9)
	f.seedEntries(1, 60, 60, -20)

	report, err := f.engine.RepairUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("RepairUser: %v", err)
	}
	if report.AutoCorrected != 3 {
		t.Fatalf("expected 3 auto-corrected findings, got %d (%v)", report.AutoCorrected, findingKinds(report))
	}

	u := f.users.users[1]
	if u.Balance != 100 {
		t.Fatalf("balance not rewritten from ledger: %d", u.Balance)
	}
	if u.LifetimeEarned != 120 {
		t.Fatalf("lifetime not rewritten from ledger: %d", u.LifetimeEarned)
	}
	if u.Level != domain.LevelForEarned(120) {
		t.Fatalf("level not rewritten from curve: %d", u.Level)
	}
}

func TestRepairUserCollapsesDuplicateGrants(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 0, 0, 1)

	later := time.Now().UTC().Add(48 * time.Hour)
	f.grants.grants = []*domain.AccessGrant{
		{ID: 1, UserID: 1, Action: domain.AccessActionGrant, ExpiresAt: time.Now().UTC().Add(24 * time.Hour), Active: true},
		{ID: 2, UserID: 1, Action: domain.AccessActionGrant, ExpiresAt: later, Active: true},
	}

	report, err := f.engine.RepairUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("RepairUser: %v", err)
	}
	if report.AutoCorrected != 1 {
		t.Fatalf("expected 1 auto-corrected finding, got %d (%v)", report.AutoCorrected, findingKinds(report))
	}

	active, err := f.grants.ActiveGrants(context.Background(), nil, 1)
	if err != nil {
		t.Fatalf("ActiveGrants: %v", err)
	}
	if len(active) != 1 || active[0].ID != 2 {
		t.Fatalf("expected only the latest-expiry grant to survive, got %+v", active)
	}
	if len(f.grants.grants) != 2 {
		t.Fatalf("repair deleted history rows")
	}
}

func TestRepairUserExpiresStaleActiveGrant(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 0, 0, 1)
	f.grants.grants = []*domain.AccessGrant{
		{ID: 1, UserID: 1, Action: domain.AccessActionGrant, ExpiresAt: time.Now().UTC().Add(-time.Hour), Active: true},
	}

	report, err := f.engine.RepairUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("RepairUser: %v", err)
	}
	if report.AutoCorrected != 1 {
		t.Fatalf("expected 1 auto-corrected finding, got %d (%v)", report.AutoCorrected, findingKinds(report))
	}
	if f.grants.grants[0].Active {
		t.Fatalf("expired grant still active after repair")
	}
}

func TestRepairUserFlagsOrphanNarrativeState(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 0, 0, 1)
	f.states.states[1] = &domain.UserNarrativeState{UserID: 1, CurrentID: "missing_fragment"}

	report, err := f.engine.RepairUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("RepairUser: %v", err)
	}
	if report.NeedsReview != 1 {
		t.Fatalf("expected 1 finding needing review, got %d (%v)", report.NeedsReview, findingKinds(report))
	}
	if report.Findings[0].Kind != FindingOrphanNarrativeState {
		t.Fatalf("expected orphan state finding, got %s", report.Findings[0].Kind)
	}
	if report.Findings[0].Resolution != ResolutionNeedsReview {
		t.Fatalf("narrative findings must not be auto-corrected")
	}
	// The cursor is untouched; repairs never rewrite narrative state.
	if f.states.states[1].CurrentID != "missing_fragment" {
		t.Fatalf("repair rewrote the narrative cursor")
	}
}

func TestRepairUserFlagsBrokenEntryChain(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 50, 50, 1)
	f.entries.entries = []*domain.LedgerEntry{
		{ID: 1, UserID: 1, Amount: 25, Balance: 25},
		{ID: 2, UserID: 1, Amount: 25, Balance: 90},
	}

	report, err := f.engine.RepairUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("RepairUser: %v", err)
	}

	var chain *Finding
	for i := range report.Findings {
		if report.Findings[i].Kind == FindingBrokenEntryChain {
			chain = &report.Findings[i]
		}
	}
	if chain == nil {
		t.Fatalf("expected broken chain finding, got %v", findingKinds(report))
	}
	if chain.Resolution != ResolutionNeedsReview {
		t.Fatalf("ledger history findings must not be auto-corrected")
	}
}

func TestRepairUserFlagsUnknownAchievement(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 0, 0, 1)
	f.unlocks.unlocks = []domain.AchievementUnlock{
		{UserID: 1, AchievementID: "sharp_eyes"},
		{UserID: 1, AchievementID: "deleted_achievement"},
	}

	report, err := f.engine.RepairUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("RepairUser: %v", err)
	}
	if report.NeedsReview != 1 {
		t.Fatalf("expected 1 finding needing review, got %d (%v)", report.NeedsReview, findingKinds(report))
	}
	if report.Findings[0].Kind != FindingUnknownAchievement {
		t.Fatalf("expected unknown achievement finding, got %s", report.Findings[0].Kind)
	}
	if len(f.unlocks.unlocks) != 2 {
		t.Fatalf("repair deleted unlock history")
	}
}
