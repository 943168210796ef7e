package extract

import (
	"testing"

	"NewsHarvester/internal/domain"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestResolveBuiltInDefaults(t *testing.T) {
	t.Parallel()

	policy := Resolve(nil, nil)

	if _, ok := policy.Image.(ImageAuto); !ok {
		t.Fatalf("expected auto image strategy, got %T", policy.Image)
	}
	if _, ok := policy.Description.(DescriptionAuto); !ok {
		t.Fatalf("expected auto description strategy, got %T", policy.Description)
	}
	if !policy.StripHTML {
		t.Fatalf("expected strip html by default")
	}
	if policy.MaxDescriptionLength != DefaultMaxDescriptionLength {
		t.Fatalf("unexpected max length: %d", policy.MaxDescriptionLength)
	}
}

func TestResolveOverrideWinsFieldByField(t *testing.T) {
	t.Parallel()

	defaults := &domain.ExtractionPolicy{
		ImageSource:          strPtr("media_content"),
		StripHTML:            boolPtr(false),
		MaxDescriptionLength: intPtr(120),
		FieldMappings:        map[string]string{"author": "dc:creator", "image": "og:image"},
	}
	override := &domain.ExtractionPolicy{
		ImageSource:   strPtr("enclosure"),
		FieldMappings: map[string]string{"author": "itunes:author"},
	}

	policy := Resolve(override, defaults)

	from, ok := policy.Image.(ImageFrom)
	if !ok || from.Source != FromEnclosure {
		t.Fatalf("expected enclosure from override, got %#v", policy.Image)
	}
	if policy.StripHTML {
		t.Fatalf("expected strip html from defaults")
	}
	if policy.MaxDescriptionLength != 120 {
		t.Fatalf("expected max length from defaults, got %d", policy.MaxDescriptionLength)
	}
	if policy.FieldMappings["author"] != "itunes:author" {
		t.Fatalf("expected override mapping, got %q", policy.FieldMappings["author"])
	}
	if policy.FieldMappings["image"] != "og:image" {
		t.Fatalf("expected default mapping to survive, got %q", policy.FieldMappings["image"])
	}
}

func TestResolveTreatsMalformedOverrideAsUnset(t *testing.T) {
	t.Parallel()

	defaults := &domain.ExtractionPolicy{
		ImageSource:       strPtr("regex"),
		ImageRegex:        strPtr(`data-src="([^"]+)"`),
		DescriptionSource: strPtr("summary"),
	}
	override := &domain.ExtractionPolicy{
		ImageSource:          strPtr("regex"),
		ImageRegex:           strPtr(`([unclosed`),
		DescriptionSource:    strPtr("headline"),
		MaxDescriptionLength: intPtr(-5),
		DateFormat:           strPtr("   "),
	}

	policy := Resolve(override, defaults)

	re, ok := policy.Image.(ImageRegex)
	if !ok || re.Pattern.String() != `data-src="([^"]+)"` {
		t.Fatalf("expected defaults regex, got %#v", policy.Image)
	}
	from, ok := policy.Description.(DescriptionFrom)
	if !ok || from.Source != FromSummary {
		t.Fatalf("expected summary from defaults, got %#v", policy.Description)
	}
	if policy.MaxDescriptionLength != DefaultMaxDescriptionLength {
		t.Fatalf("negative max length should be ignored, got %d", policy.MaxDescriptionLength)
	}
	if policy.DateLayout != "" {
		t.Fatalf("blank date layout should be ignored, got %q", policy.DateLayout)
	}
}

func TestResolveRegexWithoutGroupFallsBack(t *testing.T) {
	t.Parallel()

	override := &domain.ExtractionPolicy{
		ImageSource: strPtr("regex"),
		ImageRegex:  strPtr(`<img src=.*>`),
	}

	if _, ok := Resolve(override, nil).Image.(ImageAuto); !ok {
		t.Fatalf("regex without capture group should resolve to auto")
	}
}
