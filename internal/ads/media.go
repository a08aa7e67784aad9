package ads

import (
	"path"
	"strings"
)

// MediaKind selects the provider send call used for a media item.
// It is computed once when media is attached to an advertisement, not
// re-derived from the URL at send time.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaRef is one ordered media attachment: an opaque URL plus its kind.
type MediaRef struct {
	URL  string
	Kind MediaKind
}

// KindFromURL classifies a media URL by file extension.
// Anything unrecognized ships as a generic document.
func KindFromURL(url string) MediaKind {
	ext := strings.ToLower(path.Ext(stripQuery(url)))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return MediaImage
	case ".mp4", ".avi", ".mov":
		return MediaVideo
	case ".mp3", ".wav":
		return MediaAudio
	default:
		return MediaDocument
	}
}

// NewMediaRef builds a MediaRef with its kind resolved.
func NewMediaRef(url string) MediaRef {
	return MediaRef{URL: url, Kind: KindFromURL(url)}
}

// MediaRefs classifies an ordered URL list, preserving order.
func MediaRefs(urls []string) []MediaRef {
	if len(urls) == 0 {
		return nil
	}
	refs := make([]MediaRef, 0, len(urls))
	for _, u := range urls {
		refs = append(refs, NewMediaRef(u))
	}
	return refs
}

func stripQuery(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}
