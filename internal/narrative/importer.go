package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/questline/questline-bot/internal/database"
	"github.com/questline/questline-bot/internal/domain"
)

type fragmentFile struct {
	Fragments []fragmentYAML `yaml:"fragments"`
}

type fragmentYAML struct {
	ID           string       `yaml:"id"`
	Kind         string       `yaml:"kind"`
	Title        string       `yaml:"title"`
	Body         string       `yaml:"body"`
	Choices      []choiceYAML `yaml:"choices"`
	NextID       string       `yaml:"next"`
	Triggers     []effectYAML `yaml:"triggers"`
	RequiredKeys []string     `yaml:"required_keys"`
	Archived     bool         `yaml:"archived"`
}

type choiceYAML struct {
	Label    string `yaml:"label"`
	TargetID string `yaml:"target"`
}

type effectYAML struct {
	Kind          string `yaml:"kind"`
	Amount        int64  `yaml:"amount"`
	Key           string `yaml:"key"`
	AchievementID string `yaml:"achievement_id"`
}

// Importer publishes authored YAML fragments into the content table and
// validates the resulting graph before committing.
type Importer struct {
	content *SQLContentRepository
	uow     database.UnitOfWork
	log     *slog.Logger
}

func NewImporter(content *SQLContentRepository, uow database.UnitOfWork, log *slog.Logger) *Importer {
	return &Importer{content: content, uow: uow, log: log}
}

// ImportDir loads every *.yaml file under dir and upserts its fragments in
// a single transaction. The whole import is rejected when the combined
// graph fails validation.
func (i *Importer) ImportDir(ctx context.Context, dir string) error {
	fragments, err := loadDir(dir)
	if err != nil {
		return err
	}
	if len(fragments) == 0 {
		i.log.Warn("no narrative fragments found", "dir", dir)
		return nil
	}

	if err := ValidateGraph(fragments); err != nil {
		return fmt.Errorf("validate content: %w", err)
	}

	err = i.uow.WithinTx(ctx, func(ctx context.Context, q database.Querier) error {
		for _, fragment := range fragments {
			if err := i.content.Upsert(ctx, q, fragment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	i.log.Info("narrative content imported", "dir", dir, "fragments", len(fragments))
	return nil
}

func loadDir(dir string) ([]*domain.Fragment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}

	var fragments []*domain.Fragment
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		loaded, err := loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		fragments = append(fragments, loaded...)
	}

	return fragments, nil
}

func loadFile(path string) ([]*domain.Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file fragmentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	fragments := make([]*domain.Fragment, 0, len(file.Fragments))
	for _, f := range file.Fragments {
		fragment := &domain.Fragment{
			ID:           f.ID,
			Kind:         domain.FragmentKind(f.Kind),
			Title:        f.Title,
			Body:         f.Body,
			NextID:       f.NextID,
			RequiredKeys: f.RequiredKeys,
			Archived:     f.Archived,
		}
		for _, c := range f.Choices {
			fragment.Choices = append(fragment.Choices, domain.Choice{Label: c.Label, TargetID: c.TargetID})
		}
		for _, t := range f.Triggers {
			fragment.Triggers = append(fragment.Triggers, domain.Effect{
				Kind:          domain.EffectKind(t.Kind),
				Amount:        t.Amount,
				Key:           t.Key,
				AchievementID: t.AchievementID,
			})
		}
		fragments = append(fragments, fragment)
	}

	return fragments, nil
}
