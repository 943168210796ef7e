package domain

// Image source modes accepted in configuration.
const (
	ImageSourceAuto           = "auto"
	ImageSourceEnclosure      = "enclosure"
	ImageSourceMediaThumbnail = "media_thumbnail"
	ImageSourceMediaContent   = "media_content"
	ImageSourceContentImg     = "content_img"
	ImageSourceRegex          = "regex"
	ImageSourceNone           = "none"
)

// Description source modes accepted in configuration.
const (
	DescriptionSourceAuto        = "auto"
	DescriptionSourceDescription = "description"
	DescriptionSourceSummary     = "summary"
	DescriptionSourceContent     = "content"
)

// ExtractionPolicy is a per-feed override or the global parser defaults.
// Nil fields are unset and fall through to the next layer.
type ExtractionPolicy struct {
	ImageSource          *string           `yaml:"imageSource"`
	ImageRegex           *string           `yaml:"imageRegex"`
	DescriptionSource    *string           `yaml:"descriptionSource"`
	StripHTML            *bool             `yaml:"stripHtml"`
	MaxDescriptionLength *int              `yaml:"maxDescriptionLength"`
	DateFormat           *string           `yaml:"dateFormat"`
	FieldMappings        map[string]string `yaml:"fieldMappings"`
}
