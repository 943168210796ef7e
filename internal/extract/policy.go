package extract

import (
	"regexp"
	"strings"

	"NewsHarvester/internal/domain"
)

// DefaultMaxDescriptionLength applies when neither the feed nor the defaults set a limit.
const DefaultMaxDescriptionLength = 500

// ImageSource names a single image-bearing element kind.
type ImageSource int

const (
	FromEnclosure ImageSource = iota
	FromMediaThumbnail
	FromMediaContent
	FromContentImg
)

var autoImageOrder = []ImageSource{FromEnclosure, FromMediaThumbnail, FromMediaContent, FromContentImg}

// ImageStrategy is a closed set of image extraction strategies.
type ImageStrategy interface{ imageStrategy() }

// ImageAuto walks the whole auto cascade.
type ImageAuto struct{}

// ImageFrom tries Source first, then the remaining auto cascade.
type ImageFrom struct{ Source ImageSource }

// ImageRegex applies a feed-supplied pattern to the richest HTML block; first group is the URL.
type ImageRegex struct{ Pattern *regexp.Regexp }

// ImageDisabled never yields an image.
type ImageDisabled struct{}

func (ImageAuto) imageStrategy()     {}
func (ImageFrom) imageStrategy()     {}
func (ImageRegex) imageStrategy()    {}
func (ImageDisabled) imageStrategy() {}

// DescriptionSource names a raw text block.
type DescriptionSource int

const (
	FromDescription DescriptionSource = iota
	FromSummary
	FromContent
)

var autoDescriptionOrder = []DescriptionSource{FromDescription, FromSummary, FromContent}

// DescriptionStrategy is a closed set of description strategies.
type DescriptionStrategy interface{ descriptionStrategy() }

// DescriptionAuto takes the first non-empty block in description, summary, content order.
type DescriptionAuto struct{}

// DescriptionFrom tries Source first, then the auto order.
type DescriptionFrom struct{ Source DescriptionSource }

func (DescriptionAuto) descriptionStrategy() {}
func (DescriptionFrom) descriptionStrategy() {}

// ResolvedPolicy is the immutable per-feed extraction plan.
type ResolvedPolicy struct {
	Image                ImageStrategy
	Description          DescriptionStrategy
	StripHTML            bool
	MaxDescriptionLength int
	DateLayout           string
	FieldMappings        map[string]string
}

// Resolve merges a feed override over the global defaults over the built-in auto mode.
// It never fails: malformed values are treated as unset.
func Resolve(override, defaults *domain.ExtractionPolicy) ResolvedPolicy {
	layers := []*domain.ExtractionPolicy{override, defaults}

	policy := ResolvedPolicy{
		Image:                ImageAuto{},
		Description:          DescriptionAuto{},
		StripHTML:            true,
		MaxDescriptionLength: DefaultMaxDescriptionLength,
		FieldMappings:        map[string]string{},
	}

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if strategy, ok := imageStrategyFor(layer); ok {
			policy.Image = strategy
			break
		}
	}

	for _, layer := range layers {
		if layer == nil || layer.DescriptionSource == nil {
			continue
		}
		if strategy, ok := descriptionStrategyFor(*layer.DescriptionSource); ok {
			policy.Description = strategy
			break
		}
	}

	for _, layer := range layers {
		if layer != nil && layer.StripHTML != nil {
			policy.StripHTML = *layer.StripHTML
			break
		}
	}

	for _, layer := range layers {
		if layer != nil && layer.MaxDescriptionLength != nil && *layer.MaxDescriptionLength >= 0 {
			policy.MaxDescriptionLength = *layer.MaxDescriptionLength
			break
		}
	}

	for _, layer := range layers {
		if layer != nil && layer.DateFormat != nil && strings.TrimSpace(*layer.DateFormat) != "" {
			policy.DateLayout = strings.TrimSpace(*layer.DateFormat)
			break
		}
	}

	// Mappings merge per key, the override taking precedence.
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] == nil {
			continue
		}
		for field, element := range layers[i].FieldMappings {
			field = strings.ToLower(strings.TrimSpace(field))
			element = strings.TrimSpace(element)
			if field == "" || element == "" {
				continue
			}
			policy.FieldMappings[field] = element
		}
	}

	return policy
}

func imageStrategyFor(layer *domain.ExtractionPolicy) (ImageStrategy, bool) {
	if layer.ImageSource == nil {
		return nil, false
	}

	switch strings.ToLower(strings.TrimSpace(*layer.ImageSource)) {
	case domain.ImageSourceAuto:
		return ImageAuto{}, true
	case domain.ImageSourceEnclosure:
		return ImageFrom{Source: FromEnclosure}, true
	case domain.ImageSourceMediaThumbnail:
		return ImageFrom{Source: FromMediaThumbnail}, true
	case domain.ImageSourceMediaContent:
		return ImageFrom{Source: FromMediaContent}, true
	case domain.ImageSourceContentImg:
		return ImageFrom{Source: FromContentImg}, true
	case domain.ImageSourceNone:
		return ImageDisabled{}, true
	case domain.ImageSourceRegex:
		if layer.ImageRegex == nil {
			return nil, false
		}
		pattern, err := regexp.Compile(*layer.ImageRegex)
		if err != nil || pattern.NumSubexp() < 1 {
			return nil, false
		}
		return ImageRegex{Pattern: pattern}, true
	default:
		return nil, false
	}
}

func descriptionStrategyFor(mode string) (DescriptionStrategy, bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case domain.DescriptionSourceAuto:
		return DescriptionAuto{}, true
	case domain.DescriptionSourceDescription:
		return DescriptionFrom{Source: FromDescription}, true
	case domain.DescriptionSourceSummary:
		return DescriptionFrom{Source: FromSummary}, true
	case domain.DescriptionSourceContent:
		return DescriptionFrom{Source: FromContent}, true
	default:
		return nil, false
	}
}
