package domain

import "errors"

// ImageKind tags the populated variant of an ImageReference.
type ImageKind string

const (
	ImageKindURL    ImageKind = "url"
	ImageKindBase64 ImageKind = "base64"
)

// DefaultImageMimeType is assumed for inline images that do not declare one.
const DefaultImageMimeType = "image/png"

var errInvalidImage = errors.New("invalid image reference")

// ImageReference points at a generated image, either by URL or inline base64.
// Exactly one variant is populated.
type ImageReference struct {
	Kind     ImageKind `json:"type"`
	URL      string    `json:"url,omitempty"`
	Data     string    `json:"base64,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
}

// NewURLImage builds a URL variant. mimeType may be empty.
func NewURLImage(url, mimeType string) ImageReference {
	return ImageReference{Kind: ImageKindURL, URL: url, MimeType: mimeType}
}

// NewBase64Image builds an inline variant, defaulting the MIME type.
func NewBase64Image(data, mimeType string) ImageReference {
	if mimeType == "" {
		mimeType = DefaultImageMimeType
	}
	return ImageReference{Kind: ImageKindBase64, Data: data, MimeType: mimeType}
}

// Validate checks that exactly the fields of the tagged variant are set.
func (r ImageReference) Validate() error {
	switch r.Kind {
	case ImageKindURL:
		if r.URL == "" || r.Data != "" {
			return errInvalidImage
		}
	case ImageKindBase64:
		if r.Data == "" || r.URL != "" || r.MimeType == "" {
			return errInvalidImage
		}
	default:
		return errInvalidImage
	}
	return nil
}
