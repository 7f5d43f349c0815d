package domain

import "time"

// FragmentKind distinguishes the behavior of a narrative fragment.
type FragmentKind string

const (
	// FragmentStory is plain narrative content with at most one default transition.
	FragmentStory FragmentKind = "story"
	// FragmentDecision presents an ordered list of choices to the user.
	FragmentDecision FragmentKind = "decision"
	// FragmentInfo is auxiliary content with at most one default transition.
	FragmentInfo FragmentKind = "info"
)

// Choice is a single outgoing edge of a decision fragment.
type Choice struct {
	Label    string `json:"label" yaml:"label"`
	TargetID string `json:"target_id" yaml:"target"`
}

// Fragment is an immutable-once-published unit of narrative content.
// Every TargetID referenced by a choice must resolve to an existing,
// non-archived fragment.
type Fragment struct {
	ID           string       `json:"id" yaml:"id"`
	Kind         FragmentKind `json:"kind" yaml:"kind"`
	Title        string       `json:"title" yaml:"title"`
	Body         string       `json:"body" yaml:"body"`
	Choices      []Choice     `json:"choices,omitempty" yaml:"choices"`
	NextID       string       `json:"next_id,omitempty" yaml:"next"`
	Triggers     []Effect     `json:"triggers,omitempty" yaml:"triggers"`
	RequiredKeys []string     `json:"required_keys,omitempty" yaml:"required_keys"`
	Archived     bool         `json:"archived,omitempty" yaml:"archived"`
}

// Terminal reports whether the fragment has no outgoing transition.
func (f *Fragment) Terminal() bool {
	return len(f.Choices) == 0 && f.NextID == ""
}

// UserNarrativeState holds the per-user progression cursor.
// CurrentID, when set, must be reachable from the start fragment through
// the recorded visits.
type UserNarrativeState struct {
	UserID       int64
	CurrentID    string
	Visited      []string
	Completed    []string
	UnlockedKeys []string
	UpdatedAt    time.Time
}

// HasVisited reports whether the fragment has been visited before.
func (s *UserNarrativeState) HasVisited(fragmentID string) bool {
	return contains(s.Visited, fragmentID)
}

// HasCompleted reports whether the fragment has been completed.
func (s *UserNarrativeState) HasCompleted(fragmentID string) bool {
	return contains(s.Completed, fragmentID)
}

// HasKey reports whether the unlock key has been earned.
func (s *UserNarrativeState) HasKey(key string) bool {
	return contains(s.UnlockedKeys, key)
}

// MarkVisited records a visit exactly once and reports whether it was new.
func (s *UserNarrativeState) MarkVisited(fragmentID string) bool {
	if s.HasVisited(fragmentID) {
		return false
	}

	s.Visited = append(s.Visited, fragmentID)
	return true
}

// MarkCompleted records completion exactly once and reports whether it
// was new.
func (s *UserNarrativeState) MarkCompleted(fragmentID string) bool {
	if s.HasCompleted(fragmentID) {
		return false
	}

	s.Completed = append(s.Completed, fragmentID)
	return true
}

// UnlockKey records an earned key exactly once.
func (s *UserNarrativeState) UnlockKey(key string) {
	if !s.HasKey(key) {
		s.UnlockedKeys = append(s.UnlockedKeys, key)
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}

	return false
}
