package registry

import (
	"fmt"
	"regexp"
	"sort"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

var feedIDExpr = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidFeedID reports whether id can be embedded in storage keys.
func ValidFeedID(id string) bool {
	return feedIDExpr.MatchString(id)
}

// Registry keeps the configured feed sources keyed by ID, plus the parser defaults.
type Registry struct {
	feeds    map[string]domain.FeedSource
	order    []string
	defaults *domain.ExtractionPolicy
}

var _ ports.FeedRegistry = (*Registry)(nil)

// New builds an empty registry with the given extraction defaults (may be nil).
func New(defaults *domain.ExtractionPolicy) *Registry {
	return &Registry{feeds: map[string]domain.FeedSource{}, defaults: defaults}
}

// Register adds a feed source; IDs must be valid and unique.
func (r *Registry) Register(feed domain.FeedSource) error {
	if !ValidFeedID(feed.ID) {
		return fmt.Errorf("feed id %q must match [A-Za-z0-9._-]{1,64}", feed.ID)
	}
	if _, ok := r.feeds[feed.ID]; ok {
		return fmt.Errorf("feed %s is already registered", feed.ID)
	}
	r.feeds[feed.ID] = feed
	r.order = append(r.order, feed.ID)
	return nil
}

// Resolve returns a feed by ID or an error if it is absent.
func (r *Registry) Resolve(id string) (domain.FeedSource, error) {
	if feed, ok := r.feeds[id]; ok {
		return feed, nil
	}
	return domain.FeedSource{}, fmt.Errorf("feed %s is not registered", id)
}

// ListEnabled returns enabled feeds, highest priority tier first, then registration order.
func (r *Registry) ListEnabled() []domain.FeedSource {
	out := make([]domain.FeedSource, 0, len(r.order))
	for _, id := range r.order {
		if feed := r.feeds[id]; feed.Enabled {
			out = append(out, feed)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Defaults returns the parser-wide extraction policy.
func (r *Registry) Defaults() *domain.ExtractionPolicy {
	return r.defaults
}
