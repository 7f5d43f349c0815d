package narrative

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/pkg/metrics"
)

// Advance is the outcome of a narrative transition. Effects are the
// fragment triggers that still need executing; the machine never executes
// them itself, the caller applies them in the same transaction.
type Advance struct {
	Fragment   *domain.Fragment
	State      *domain.UserNarrativeState
	Effects    []domain.Effect
	FirstVisit bool
	// CompletedIDs lists the fragments newly marked completed by this
	// transition: the fragment being left, plus the destination when it
	// is terminal.
	CompletedIDs []string
	// Completed reports that the destination ends the questline.
	Completed bool
}

// AdvanceRecorder observes committed transitions, e.g. for metrics.
type AdvanceRecorder func(userID int64, fromID, toID string, firstVisit bool)

// Machine drives per-user progression through the fragment graph. It
// validates transitions and collects trigger effects but delegates their
// execution and all persistence ordering to the workflow coordinator.
type Machine struct {
	content   ContentRepository
	states    StateRepository
	startID   string
	log       *slog.Logger
	recorders []AdvanceRecorder
}

func NewMachine(content ContentRepository, states StateRepository, startID string, log *slog.Logger) *Machine {
	m := &Machine{
		content: content,
		states:  states,
		startID: startID,
		log:     log,
	}
	m.RegisterAdvanceRecorder(func(_ int64, fromID, toID string, _ bool) {
		metrics.RecordNarrativeAdvance(fromID, toID)
	})

	return m
}

// RegisterAdvanceRecorder adds an observer invoked on every successful
// transition. Recorders must not block.
func (m *Machine) RegisterAdvanceRecorder(rec AdvanceRecorder) {
	m.recorders = append(m.recorders, rec)
}

// CurrentFragment resolves the fragment the user is parked on, or the
// start fragment for users who have not begun.
func (m *Machine) CurrentFragment(ctx context.Context, q database.Querier, userID int64) (*domain.Fragment, *domain.UserNarrativeState, error) {
	state, err := m.states.State(ctx, q, userID)
	if err != nil {
		if err == ErrStateNotFound {
			fragment, ferr := m.content.Fragment(ctx, m.startID)
			if ferr != nil {
				return nil, nil, fmt.Errorf("load start fragment: %w", ferr)
			}
			return fragment, nil, nil
		}
		return nil, nil, err
	}

	fragment, err := m.content.Fragment(ctx, state.CurrentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load current fragment %q: %w", state.CurrentID, err)
	}

	return fragment, state, nil
}

// Start places the user on the start fragment. For a user who already has
// state the call is a no-op that reports the current position; progression
// is never reset.
func (m *Machine) Start(ctx context.Context, q database.Querier, userID int64) (*Advance, error) {
	state, err := m.states.State(ctx, q, userID)
	if err != nil && err != ErrStateNotFound {
		return nil, err
	}

	if state != nil {
		fragment, ferr := m.content.Fragment(ctx, state.CurrentID)
		if ferr != nil {
			return nil, fmt.Errorf("load current fragment %q: %w", state.CurrentID, ferr)
		}
		return &Advance{Fragment: fragment, State: state}, nil
	}

	fragment, err := m.content.Fragment(ctx, m.startID)
	if err != nil {
		return nil, fmt.Errorf("load start fragment: %w", err)
	}

	state = &domain.UserNarrativeState{UserID: userID, CurrentID: fragment.ID}
	return m.commit(ctx, q, state, fragment, "")
}

// Advance applies the user's choice on the current decision fragment.
// The choice index is validated against the fragment the user is actually
// parked on, never against what the client rendered.
func (m *Machine) Advance(ctx context.Context, q database.Querier, userID int64, choiceIndex int) (*Advance, error) {
	state, current, err := m.position(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	if current.Kind != domain.FragmentDecision {
		return nil, errors.NewInvalidChoiceError(choiceIndex, 0)
	}
	if choiceIndex < 0 || choiceIndex >= len(current.Choices) {
		return nil, errors.NewInvalidChoiceError(choiceIndex, len(current.Choices))
	}

	return m.transition(ctx, q, state, current.Choices[choiceIndex].TargetID)
}

// Continue follows the default edge of a story or info fragment.
func (m *Machine) Continue(ctx context.Context, q database.Querier, userID int64) (*Advance, error) {
	state, current, err := m.position(ctx, q, userID)
	if err != nil {
		return nil, err
	}

	if current.Kind == domain.FragmentDecision {
		return nil, errors.NewValidationError("a choice is required here")
	}
	if current.NextID == "" {
		return nil, errors.NewValidationError("this part of the story has ended")
	}

	return m.transition(ctx, q, state, current.NextID)
}

// UnlockKey grants an unlock key earned outside the graph, e.g. through a
// redeemed reward.
func (m *Machine) UnlockKey(ctx context.Context, q database.Querier, userID int64, key string) error {
	state, err := m.states.State(ctx, q, userID)
	if err != nil {
		return err
	}

	if state.HasKey(key) {
		return nil
	}

	state.UnlockKey(key)
	return m.states.Save(ctx, q, state)
}

func (m *Machine) position(ctx context.Context, q database.Querier, userID int64) (*domain.UserNarrativeState, *domain.Fragment, error) {
	state, err := m.states.State(ctx, q, userID)
	if err != nil {
		if err == ErrStateNotFound {
			return nil, nil, errors.NewValidationError("start the story first")
		}
		return nil, nil, err
	}

	current, err := m.content.Fragment(ctx, state.CurrentID)
	if err != nil {
		return nil, nil, fmt.Errorf("load current fragment %q: %w", state.CurrentID, err)
	}

	return state, current, nil
}

func (m *Machine) transition(ctx context.Context, q database.Querier, state *domain.UserNarrativeState, targetID string) (*Advance, error) {
	target, err := m.content.Fragment(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target fragment %q: %w", targetID, err)
	}

	for _, key := range target.RequiredKeys {
		if !state.HasKey(key) {
			return nil, errors.NewLockedError(key)
		}
	}

	fromID := state.CurrentID
	state.CurrentID = target.ID
	return m.commit(ctx, q, state, target, fromID)
}

func (m *Machine) commit(ctx context.Context, q database.Querier, state *domain.UserNarrativeState, fragment *domain.Fragment, fromID string) (*Advance, error) {
	firstVisit := state.MarkVisited(fragment.ID)

	// Leaving a fragment completes it; a terminal destination completes
	// itself since there is nothing left to leave it for.
	var completedIDs []string
	if fromID != "" && state.MarkCompleted(fromID) {
		completedIDs = append(completedIDs, fromID)
	}
	terminal := fragment.Terminal()
	if terminal && state.MarkCompleted(fragment.ID) {
		completedIDs = append(completedIDs, fragment.ID)
	}

	if err := m.states.Save(ctx, q, state); err != nil {
		return nil, err
	}

	adv := &Advance{
		Fragment:     fragment,
		State:        state,
		FirstVisit:   firstVisit,
		CompletedIDs: completedIDs,
		Completed:    terminal,
	}
	// Triggers fire once per user, on the first visit only.
	if firstVisit {
		adv.Effects = fragment.Triggers
	}

	for _, rec := range m.recorders {
		rec(state.UserID, fromID, fragment.ID, firstVisit)
	}

	m.log.Debug("narrative transition",
		"user_id", state.UserID,
		"from", fromID,
		"fragment_id", fragment.ID,
		"first_visit", firstVisit,
		"completed", completedIDs,
	)

	return adv, nil
}
