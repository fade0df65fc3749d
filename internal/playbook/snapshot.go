// CLAUDE:SUMMARY Snapshot builder — denormalized read-only view of sections and bullets for prompt construction
package playbook

import (
	"context"
	"sort"

	"github.com/hazyhaar/aceplaybook/internal/db"
)

// BulletView is the read-only, denormalized view of one bullet.
type BulletView struct {
	BulletID           string      `json:"bullet_id"`
	SectionName        string      `json:"section_name"`
	SectionDisplayName string      `json:"section_display_name"`
	Content            string      `json:"content"`
	HelpfulCount       int         `json:"helpful_count"`
	HarmfulCount       int         `json:"harmful_count"`
	Metadata           db.Metadata `json:"metadata"`
	CreatedAt          string      `json:"created_at"`
}

// SectionView is the read-only view of one section with its bullet ids in
// creation order.
type SectionView struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description,omitempty"`
	Ordering    int         `json:"ordering"`
	Metadata    db.Metadata `json:"metadata"`
	BulletIDs   []string    `json:"bullet_ids"`
}

// Snapshot is a point-in-time, read-only view of the playbook. Callers must
// not mutate it; building concurrently with engine writes is safe but is
// not transactionally isolated from them.
type Snapshot struct {
	Sections map[string]*SectionView `json:"sections"`
	Bullets  map[string]*BulletView  `json:"bullets"`
}

// OrderedSections returns the section views sorted by (ordering, name).
func (sn *Snapshot) OrderedSections() []*SectionView {
	views := make([]*SectionView, 0, len(sn.Sections))
	for _, v := range sn.Sections {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Ordering != views[j].Ordering {
			return views[i].Ordering < views[j].Ordering
		}
		return views[i].Name < views[j].Name
	})
	return views
}

// Builder assembles playbook snapshots. It only reads the store.
type Builder struct {
	db *db.DB
}

func NewBuilder(database *db.DB) *Builder {
	return &Builder{db: database}
}

// Build loads sections ordered by (ordering, name) and bullets ordered by
// creation time ascending, optionally filtered to the given section names.
// A bullet whose section fell outside the filter still gets a synthesized
// section entry, so no bullet is ever dropped silently.
func (b *Builder) Build(ctx context.Context, sectionNames ...string) (*Snapshot, error) {
	store := b.db.Store()

	sections, err := store.ListSections(ctx, sectionNames...)
	if err != nil {
		return nil, err
	}
	joins, err := store.ListBulletsWithSections(ctx, sectionNames...)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		Sections: make(map[string]*SectionView, len(sections)),
		Bullets:  make(map[string]*BulletView, len(joins)),
	}
	for _, sec := range sections {
		snapshot.Sections[sec.Name] = &SectionView{
			Name:        sec.Name,
			DisplayName: sec.DisplayName,
			Description: sec.Description,
			Ordering:    sec.Ordering,
			Metadata:    sec.Metadata,
			BulletIDs:   []string{},
		}
	}

	for _, j := range joins {
		snapshot.Bullets[j.Bullet.BulletID] = &BulletView{
			BulletID:           j.Bullet.BulletID,
			SectionName:        j.Section.Name,
			SectionDisplayName: j.Section.DisplayName,
			Content:            j.Bullet.Content,
			HelpfulCount:       j.Bullet.HelpfulCount,
			HarmfulCount:       j.Bullet.HarmfulCount,
			Metadata:           j.Bullet.Metadata,
			CreatedAt:          j.Bullet.CreatedAt,
		}
		sectionView, ok := snapshot.Sections[j.Section.Name]
		if !ok {
			// Section filtered out but its bullet matched, so synthesize
			// a minimal entry.
			sectionView = &SectionView{
				Name:        j.Section.Name,
				DisplayName: j.Section.DisplayName,
				Description: j.Section.Description,
				Ordering:    j.Section.Ordering,
				Metadata:    j.Section.Metadata,
				BulletIDs:   []string{},
			}
			snapshot.Sections[j.Section.Name] = sectionView
		}
		sectionView.BulletIDs = append(sectionView.BulletIDs, j.Bullet.BulletID)
	}

	return snapshot, nil
}
