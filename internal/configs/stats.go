package configs

import (
	"context"
	"time"
)

const recentChangesWindow = 30 * 24 * time.Hour

// CategoryStats summarizes one category.
type CategoryStats struct {
	Category       Category   `json:"category"`
	Versions       int64      `json:"versions"`
	CurrentVersion string     `json:"current_version,omitempty"`
	CurrentAuthor  string     `json:"current_author,omitempty"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
	RecentChanges  int64      `json:"recent_changes"`
}

// Stats summarizes history across every registered category.
type Stats struct {
	TotalVersions int64           `json:"total_versions"`
	Categories    []CategoryStats `json:"categories"`
	LastModified  *time.Time      `json:"last_modified,omitempty"`
	LastUpdatedBy string          `json:"last_updated_by,omitempty"`
	RecentChanges int64           `json:"recent_changes"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Stats reports version counts, current versions and changes within the
// trailing 30 days. Registered categories without history report zero.
func (s *Service) Stats(ctx context.Context) (stats Stats, err error) {
	defer s.observe(opStats, s.clock(), &err)
	now := s.clock().UTC()
	summaries, err := s.store.Summarize(ctx, now.Add(-recentChangesWindow))
	if err != nil {
		return Stats{}, s.fail(opStats, "summarize_failed", err)
	}
	byCategory := make(map[Category]CategorySummary, len(summaries))
	for _, summary := range summaries {
		byCategory[summary.Category] = summary
	}

	stats = Stats{GeneratedAt: now, Categories: make([]CategoryStats, 0, len(byCategory))}
	for _, category := range s.registry.Categories() {
		summary := byCategory[category]
		entry := CategoryStats{
			Category:      category,
			Versions:      summary.Versions,
			RecentChanges: summary.RecentChanges,
		}
		if summary.Current != nil {
			modified := summary.Current.CreatedAt
			entry.CurrentVersion = summary.Current.Version
			entry.CurrentAuthor = summary.Current.Author
			entry.LastModified = &modified
			if stats.LastModified == nil || modified.After(*stats.LastModified) {
				stats.LastModified = &modified
				stats.LastUpdatedBy = summary.Current.Author
			}
		}
		stats.TotalVersions += entry.Versions
		stats.RecentChanges += entry.RecentChanges
		stats.Categories = append(stats.Categories, entry)
		s.recorder.SetHistorySize(category.String(), entry.Versions)
	}
	return stats, nil
}
