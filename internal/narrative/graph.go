package narrative

import (
	"fmt"

	"github.com/questline/questline-bot/internal/domain"
)

// ValidateGraph checks authored content for structural defects: duplicate
// ids, edges that point at missing or archived fragments, decision
// fragments without choices and invalid trigger effects. Archived
// fragments stay loadable for users already parked on them but must not
// be reachable through a live edge.
func ValidateGraph(fragments []*domain.Fragment) error {
	byID := make(map[string]*domain.Fragment, len(fragments))
	for _, fragment := range fragments {
		if fragment.ID == "" {
			return fmt.Errorf("fragment with empty id")
		}
		if _, ok := byID[fragment.ID]; ok {
			return fmt.Errorf("duplicate fragment id %q", fragment.ID)
		}
		byID[fragment.ID] = fragment
	}

	for _, fragment := range fragments {
		if err := validateFragment(fragment, byID); err != nil {
			return err
		}
	}

	return nil
}

func validateFragment(fragment *domain.Fragment, byID map[string]*domain.Fragment) error {
	switch fragment.Kind {
	case domain.FragmentStory, domain.FragmentDecision, domain.FragmentInfo:
	default:
		return fmt.Errorf("fragment %q: unknown kind %q", fragment.ID, fragment.Kind)
	}

	if fragment.Archived {
		return nil
	}

	if fragment.Kind == domain.FragmentDecision {
		if len(fragment.Choices) == 0 {
			return fmt.Errorf("decision fragment %q has no choices", fragment.ID)
		}
		if fragment.NextID != "" {
			return fmt.Errorf("decision fragment %q must not set next_id", fragment.ID)
		}
		for i, choice := range fragment.Choices {
			if choice.Label == "" {
				return fmt.Errorf("fragment %q choice %d has empty label", fragment.ID, i)
			}
			if err := validateEdge(fragment.ID, choice.TargetID, byID); err != nil {
				return err
			}
		}
	} else {
		if len(fragment.Choices) > 0 {
			return fmt.Errorf("fragment %q of kind %q must not have choices", fragment.ID, fragment.Kind)
		}
		if fragment.NextID != "" {
			if err := validateEdge(fragment.ID, fragment.NextID, byID); err != nil {
				return err
			}
		}
	}

	for i, effect := range fragment.Triggers {
		if !effect.Valid() {
			return fmt.Errorf("fragment %q trigger %d is invalid", fragment.ID, i)
		}
	}

	return nil
}

func validateEdge(from, to string, byID map[string]*domain.Fragment) error {
	if to == "" {
		return fmt.Errorf("fragment %q has an edge with empty target", from)
	}
	target, ok := byID[to]
	if !ok {
		return fmt.Errorf("fragment %q points at missing fragment %q", from, to)
	}
	if target.Archived {
		return fmt.Errorf("fragment %q points at archived fragment %q", from, to)
	}
	return nil
}
