// Package resourcekey derives the canonical key used to deduplicate processing requests.
package resourcekey

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const (
	prefixYouTube = "yt:"
	prefixURL     = "url:"
	prefixContent = "cid:"

	urlDigestBytes = 12
	urlTagLength   = 16
)

// Generate returns the resource key for a content item.
// identifier is the video id for youtube, the source URL for url content,
// and the content id for every other type.
func Generate(contentType, identifier string) string {
	switch contentType {
	case domain.ContentTypeYouTube:
		return prefixYouTube + identifier
	case domain.ContentTypeURL:
		return prefixURL + urlTag(NormalizeURL(identifier))
	default:
		return prefixContent + identifier
	}
}

// ForContent picks the identifier matching the content type and generates its key.
// Content missing its source identifier is keyed by its id.
func ForContent(c *domain.Content) string {
	switch {
	case c.ContentType == domain.ContentTypeYouTube && c.SourceID != "":
		return Generate(c.ContentType, c.SourceID)
	case c.ContentType == domain.ContentTypeURL && c.SourceURL != "":
		return Generate(c.ContentType, c.SourceURL)
	default:
		return prefixContent + c.ID
	}
}

func urlTag(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	tag := base64.RawURLEncoding.EncodeToString(sum[:urlDigestBytes])
	if len(tag) > urlTagLength {
		tag = tag[:urlTagLength]
	}
	return tag
}
