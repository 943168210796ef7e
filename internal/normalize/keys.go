package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// PartitionLayout is the date format of partition keys.
const PartitionLayout = "2006-01-02"

// KeySeparator joins sort key components. It sorts below every character allowed in feed IDs.
const KeySeparator = "#"

// NormalizeLink canonicalises a link for hashing: trims whitespace, lowercases and drops trailing slashes.
func NormalizeLink(link string) string {
	link = strings.ToLower(strings.TrimSpace(link))
	return strings.TrimRight(link, "/")
}

// ContentHash returns hex(sha256(NormalizeLink(link))).
func ContentHash(link string) string {
	sum := sha256.Sum256([]byte(NormalizeLink(link)))
	return hex.EncodeToString(sum[:])
}

// PartitionKey is the UTC calendar date of t.
func PartitionKey(t time.Time) string {
	return t.UTC().Format(PartitionLayout)
}

// ParsePartitionKey reverses PartitionKey.
func ParsePartitionKey(key string) (time.Time, error) {
	return time.ParseInLocation(PartitionLayout, key, time.UTC)
}

// SortKey orders ascending as newest-first, then feedID, then hash.
// The leading component is the nanosecond timestamp subtracted from MaxInt64, zero padded to 19 digits.
func SortKey(publishedAt time.Time, feedID, hash string) string {
	inverted := uint64(math.MaxInt64 - publishedAt.UTC().UnixNano())
	return fmt.Sprintf("%019d%s%s%s%s", inverted, KeySeparator, feedID, KeySeparator, hash)
}
