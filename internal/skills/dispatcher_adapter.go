package skills

import (
	"context"

	"github.com/relaykit/relay/internal/dispatcher"
)

// DispatcherStore adapts the file-based SKILL.md discovery system into
// dispatcher.SkillStore. spec.md §3 models a skill with requires_tools,
// tags, and an optional subagent_type; the teacher's SKILL.md frontmatter
// (SkillMetadata) only carries gating (bins/env/config) and install
// hints, so those three fields come back empty until SKILL.md frontmatter
// is extended to carry them — noted in DESIGN.md rather than faked here.
type DispatcherStore struct {
	Sources []DiscoverySource
}

func NewDispatcherStore(sources []DiscoverySource) *DispatcherStore {
	return &DispatcherStore{Sources: sources}
}

var _ dispatcher.SkillStore = (*DispatcherStore)(nil)

func (d *DispatcherStore) ListEnabled(ctx context.Context) ([]*dispatcher.Skill, error) {
	entries, err := DiscoverAll(ctx, d.Sources)
	if err != nil {
		return nil, err
	}
	out := make([]*dispatcher.Skill, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDispatcherSkill(e))
	}
	return out, nil
}

func (d *DispatcherStore) GetEnabled(ctx context.Context, name string) (*dispatcher.Skill, bool, error) {
	enabled, err := d.ListEnabled(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, s := range enabled {
		if s.Name == name {
			return s, true, nil
		}
	}
	return nil, false, nil
}

func toDispatcherSkill(e *SkillEntry) *dispatcher.Skill {
	s := &dispatcher.Skill{
		Name:        e.Name,
		Description: e.Description,
		PromptBody:  e.Content,
		Enabled:     true,
	}
	if e.Metadata != nil && e.Metadata.Requires != nil {
		s.RequiresBinaries = append(append([]string{}, e.Metadata.Requires.Bins...), e.Metadata.Requires.AnyBins...)
	}
	return s
}
