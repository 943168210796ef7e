package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

// GofeedParser turns RSS, Atom, RDF and JSON feeds into raw items.
type GofeedParser struct{}

var _ ports.FeedParser = (*GofeedParser)(nil)

// NewGofeedParser returns a stateless parser.
func NewGofeedParser() *GofeedParser {
	return &GofeedParser{}
}

// Parse decodes raw feed bytes, keeping source item order.
func (p *GofeedParser) Parse(raw []byte) ([]domain.RawFeedItem, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	atom := feed.FeedType == "atom"
	items := make([]domain.RawFeedItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		items = append(items, toRawItem(item, atom))
	}
	return items, nil
}

func toRawItem(item *gofeed.Item, atom bool) domain.RawFeedItem {
	raw := domain.RawFeedItem{
		Title:      item.Title,
		Link:       item.Link,
		GUID:       item.GUID,
		Content:    item.Content,
		RawDate:    firstNonEmpty(item.Published, item.Updated),
		Author:     authorOf(item),
		Categories: item.Categories,
		Extensions: flatten(item.Extensions),
	}

	// Atom's <summary> arrives in Description; keep it apart from RSS <description>.
	if atom {
		raw.Summary = item.Description
	} else {
		raw.Description = item.Description
		raw.Summary = raw.Extensions["itunes:summary"]
		if raw.Summary == "" && item.ITunesExt != nil {
			raw.Summary = item.ITunesExt.Summary
		}
	}
	if raw.Link == "" && len(item.Links) > 0 {
		raw.Link = item.Links[0]
	}
	if raw.RawDate == "" {
		raw.RawDate = raw.Extensions["dc:date"]
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		raw.Enclosures = append(raw.Enclosures, domain.Enclosure{URL: enc.URL, Type: enc.Type})
	}

	media := item.Extensions["media"]
	raw.MediaThumbnails = mediaThumbnails(media)
	raw.MediaContents = mediaContents(media)
	return raw
}

func authorOf(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return item.DublinCoreExt.Creator[0]
	}
	return ""
}

// mediaThumbnails collects media:thumbnail urls, including those nested in media:group.
func mediaThumbnails(media map[string][]ext.Extension) []string {
	var urls []string
	for _, el := range withGroups(media, "thumbnail") {
		if u := strings.TrimSpace(el.Attrs["url"]); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func mediaContents(media map[string][]ext.Extension) []domain.MediaContent {
	var out []domain.MediaContent
	for _, el := range withGroups(media, "content") {
		u := strings.TrimSpace(el.Attrs["url"])
		if u == "" {
			continue
		}
		out = append(out, domain.MediaContent{URL: u, Medium: el.Attrs["medium"], Type: el.Attrs["type"]})
	}
	return out
}

func withGroups(media map[string][]ext.Extension, name string) []ext.Extension {
	if media == nil {
		return nil
	}
	found := append([]ext.Extension(nil), media[name]...)
	for _, group := range media["group"] {
		found = append(found, group.Children[name]...)
	}
	return found
}

// flatten maps namespaced elements to "prefix:name" -> first non-empty value.
func flatten(extensions ext.Extensions) map[string]string {
	if len(extensions) == 0 {
		return nil
	}

	flat := make(map[string]string)
	for prefix, elements := range extensions {
		for name, values := range elements {
			for _, v := range values {
				if value := strings.TrimSpace(v.Value); value != "" {
					flat[prefix+":"+name] = value
					break
				}
			}
		}
	}
	return flat
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
