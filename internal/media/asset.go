package media

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Asset is a file held by the remote asset store.
type Asset struct {
	URL          string `json:"url"`
	PublicID     string `json:"publicId"`
	ResourceType string `json:"resourceType"`
}

// AssetStore uploads local files and deletes previously uploaded ones.
// Delete of an unknown asset is not an error.
type AssetStore interface {
	Upload(ctx context.Context, localPath string) (Asset, error)
	Delete(ctx context.Context, asset Asset) error
}

// AssetFromURL rebuilds the identifying parts of a stored asset from its
// delivery URL. ResourceType is only known for Cloudinary-style paths
// ("/<cloud>/<type>/upload/...") and is empty otherwise.
func AssetFromURL(raw string) Asset {
	raw = strings.TrimSpace(raw)
	return Asset{
		URL:          raw,
		PublicID:     PublicIDFromURL(raw),
		ResourceType: resourceTypeFromURL(raw),
	}
}

func resourceTypeFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if segments[i] != "upload" {
			continue
		}
		switch segments[i-1] {
		case "image", "video", "raw":
			return segments[i-1]
		}
	}
	return ""
}

// PublicIDFromURL returns the last path segment of an asset URL with its
// extension removed, e.g. "https://store/abc.png" -> "abc".
func PublicIDFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	p := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		p = parsed.Path
	}

	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}
