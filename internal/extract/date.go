package extract

import (
	"strings"
	"time"

	"NewsHarvester/internal/domain"
)

// standardLayouts covers RFC-822 style, ISO-8601 and the variants feeds commonly emit.
var standardLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC850,
	time.ANSIC,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 MST",
	"Mon, 02 Jan 2006 15:04 -0700",
	"Mon, 02 Jan 2006 15:04 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 January 2006 15:04:05 -0700",
	"Mon, 2 January 2006 15:04:05 MST",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// namedZones maps the RFC 822 zone names, plus a few that feeds use in
// practice, to their UTC offsets in seconds. time.Parse would otherwise read
// them as UTC, or as the host's offset when the name matches its local zone.
var namedZones = map[string]int{
	"UTC":  0,
	"GMT":  0,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"AKST": -9 * 3600,
	"AKDT": -8 * 3600,
	"HST":  -10 * 3600,
	"BST":  1 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"EET":  2 * 3600,
	"EEST": 3 * 3600,
	"MSK":  3 * 3600,
	"JST":  9 * 3600,
	"AEST": 10 * 3600,
	"AEDT": 11 * 3600,
}

// Date parses the item date using the feed layout if provided, else the standard list.
// Zone-less values are read as UTC. It returns the zero time when nothing matches.
func Date(item domain.RawFeedItem, policy ResolvedPolicy) time.Time {
	raw := mapped(item, policy, "date")
	if raw == "" {
		raw = item.RawDate
	}
	return ParseDate(raw, policy.DateLayout)
}

// ParseDate tries layout first (when set), then every standard layout.
func ParseDate(raw, layout string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if strings.HasSuffix(raw, " UT") {
		// time.Parse rejects two-letter zone names
		raw += "C"
	}

	if layout != "" {
		if t, err := time.Parse(layout, raw); err == nil {
			return withNamedZone(t, layout).UTC()
		}
	}

	for _, candidate := range standardLayouts {
		if t, err := time.Parse(candidate, raw); err == nil {
			return withNamedZone(t, candidate).UTC()
		}
	}

	return time.Time{}
}

// withNamedZone re-reads the wall clock of a value parsed with a zone name
// using the fixed offset from namedZones. Unknown names are taken as UTC.
func withNamedZone(t time.Time, layout string) time.Time {
	if !strings.Contains(layout, "MST") {
		return t
	}
	name, _ := t.Zone()
	if strings.HasPrefix(name, "GMT") && len(name) > 3 {
		// "GMT+2" style, already offset by time.Parse
		return t
	}

	y, mo, d := t.Date()
	h, mi, sec := t.Clock()
	return time.Date(y, mo, d, h, mi, sec, t.Nanosecond(), time.FixedZone(name, namedZones[strings.ToUpper(name)]))
}
