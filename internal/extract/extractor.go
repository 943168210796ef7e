package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"NewsHarvester/internal/domain"
)

var imgSrcExpr = regexp.MustCompile(`(?i)<img[^>]+src\s*=\s*["']([^"']+)["']`)

// Fields holds the candidate values extracted from one raw item.
// Empty values mean every strategy for that field came up empty.
type Fields struct {
	ImageURL    string
	Description string
	Author      string
	Categories  []string
	PublishedAt time.Time
}

// Failures counts fields for which no strategy produced a value.
func (f Fields) Failures() int {
	n := 0
	if f.ImageURL == "" {
		n++
	}
	if f.Description == "" {
		n++
	}
	if f.Author == "" {
		n++
	}
	if f.PublishedAt.IsZero() {
		n++
	}
	return n
}

// Extract runs every field extractor over item with the resolved policy. It never fails.
func Extract(item domain.RawFeedItem, policy ResolvedPolicy, feed domain.FeedSource) Fields {
	return Fields{
		ImageURL:    absoluteURL(Image(item, policy), item.Link),
		Description: Description(item, policy),
		Author:      Author(item, policy),
		Categories:  Categories(item.Categories, feed.Category),
		PublishedAt: Date(item, policy),
	}
}

// Image resolves the item image according to the policy's strategy.
func Image(item domain.RawFeedItem, policy ResolvedPolicy) string {
	if v := mapped(item, policy, "image"); v != "" {
		return v
	}

	switch s := policy.Image.(type) {
	case ImageDisabled:
		return ""
	case ImageRegex:
		match := s.Pattern.FindStringSubmatch(richestBlock(item))
		if len(match) < 2 {
			return ""
		}
		return strings.TrimSpace(match[1])
	case ImageFrom:
		if v := imageFrom(item, s.Source); v != "" {
			return v
		}
		return imageCascade(item, s.Source)
	default:
		return imageCascade(item, -1)
	}
}

func imageCascade(item domain.RawFeedItem, skip ImageSource) string {
	for _, source := range autoImageOrder {
		if source == skip {
			continue
		}
		if v := imageFrom(item, source); v != "" {
			return v
		}
	}
	return ""
}

func imageFrom(item domain.RawFeedItem, source ImageSource) string {
	switch source {
	case FromEnclosure:
		for _, enc := range item.Enclosures {
			if enc.URL == "" {
				continue
			}
			if enc.Type == "" || strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
				return strings.TrimSpace(enc.URL)
			}
		}
	case FromMediaThumbnail:
		for _, thumb := range item.MediaThumbnails {
			if v := strings.TrimSpace(thumb); v != "" {
				return v
			}
		}
	case FromMediaContent:
		for _, media := range item.MediaContents {
			if media.URL == "" {
				continue
			}
			if strings.EqualFold(media.Medium, "image") || strings.HasPrefix(strings.ToLower(media.Type), "image/") {
				return strings.TrimSpace(media.URL)
			}
		}
	case FromContentImg:
		if match := imgSrcExpr.FindStringSubmatch(richestBlock(item)); len(match) == 2 {
			return strings.TrimSpace(match[1])
		}
	}
	return ""
}

// richestBlock returns the longest of the HTML-bearing blocks.
func richestBlock(item domain.RawFeedItem) string {
	richest := item.Content
	for _, candidate := range []string{item.Description, item.Summary} {
		if len(candidate) > len(richest) {
			richest = candidate
		}
	}
	return richest
}

// Description picks the first non-empty text block and post-processes it.
func Description(item domain.RawFeedItem, policy ResolvedPolicy) string {
	raw := mapped(item, policy, "description")
	if raw == "" {
		order := autoDescriptionOrder
		if s, ok := policy.Description.(DescriptionFrom); ok {
			order = append([]DescriptionSource{s.Source}, autoDescriptionOrder...)
		}
		for _, source := range order {
			if raw = strings.TrimSpace(descriptionBlock(item, source)); raw != "" {
				break
			}
		}
	}

	if raw == "" {
		return ""
	}
	if policy.StripHTML {
		raw = StripHTML(raw)
	}
	return Truncate(raw, policy.MaxDescriptionLength)
}

func descriptionBlock(item domain.RawFeedItem, source DescriptionSource) string {
	switch source {
	case FromDescription:
		return item.Description
	case FromSummary:
		return item.Summary
	case FromContent:
		return item.Content
	default:
		return ""
	}
}

// Author prefers a mapped extension element, then the item author.
func Author(item domain.RawFeedItem, policy ResolvedPolicy) string {
	if v := mapped(item, policy, "author"); v != "" {
		return v
	}
	return strings.TrimSpace(item.Author)
}

// Categories unions item tags with the feed category, deduplicated case-insensitively in first-seen order.
func Categories(itemCategories []string, feedCategory string) []string {
	seen := make(map[string]struct{}, len(itemCategories)+1)
	out := make([]string, 0, len(itemCategories)+1)

	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}

	for _, c := range itemCategories {
		add(c)
	}
	add(feedCategory)

	return out
}

func mapped(item domain.RawFeedItem, policy ResolvedPolicy, field string) string {
	element, ok := policy.FieldMappings[field]
	if !ok || item.Extensions == nil {
		return ""
	}
	return strings.TrimSpace(item.Extensions[element])
}

func absoluteURL(ref, base string) string {
	if ref == "" || base == "" {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil || refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
