// Package achievements manages achievement definitions and idempotent
// per-user unlocks.
package achievements

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/questline/questline-bot/internal/domain"
)

type registryFile struct {
	Achievements []domain.Achievement `yaml:"achievements"`
}

// Registry is the immutable in-memory set of achievement definitions,
// loaded once at startup.
type Registry struct {
	byID    map[string]domain.Achievement
	ordered []domain.Achievement
}

// LoadRegistry reads achievement definitions from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read achievements file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse achievements file: %w", err)
	}

	return NewRegistry(file.Achievements)
}

// NewRegistry validates the definitions and builds the lookup index.
func NewRegistry(achievements []domain.Achievement) (*Registry, error) {
	r := &Registry{byID: make(map[string]domain.Achievement, len(achievements))}
	for _, a := range achievements {
		if a.ID == "" {
			return nil, fmt.Errorf("achievement with empty id")
		}
		if _, ok := r.byID[a.ID]; ok {
			return nil, fmt.Errorf("duplicate achievement id %q", a.ID)
		}
		switch a.Criterion.Kind {
		case domain.CriterionFragmentCompleted:
			if a.Criterion.FragmentID == "" {
				return nil, fmt.Errorf("achievement %q: fragment_completed criterion needs fragment_id", a.ID)
			}
		case domain.CriterionBalanceAtLeast, domain.CriterionLifetimeEarned:
			if a.Criterion.Threshold <= 0 {
				return nil, fmt.Errorf("achievement %q: threshold must be positive", a.ID)
			}
		case "":
			// Definitions without a criterion unlock only through explicit
			// fragment triggers.
		default:
			return nil, fmt.Errorf("achievement %q: unknown criterion kind %q", a.ID, a.Criterion.Kind)
		}

		r.byID[a.ID] = a
		r.ordered = append(r.ordered, a)
	}

	return r, nil
}

// ByID resolves one definition.
func (r *Registry) ByID(id string) (domain.Achievement, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// All returns definitions in load order.
func (r *Registry) All() []domain.Achievement {
	return r.ordered
}

// WithCriterion returns definitions whose criterion matches kind.
func (r *Registry) WithCriterion(kind domain.CriterionKind) []domain.Achievement {
	var out []domain.Achievement
	for _, a := range r.ordered {
		if a.Criterion.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}
