package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicIDFromURL(t *testing.T) {
	cases := map[string]string{
		"https://store/abc.png": "abc",
		"https://res.cloudinary.com/demo/image/upload/v1712/xyz123.jpg": "xyz123",
		"https://cdn.example.com/media/0190c1a2-aaaa":                   "0190c1a2-aaaa",
		"https://store/archive.tar.gz":                                  "archive",
		"https://store/abc.png?version=2":                               "abc",
		"":                                                              "",
		"   ":                                                           "",
		"https://store/":                                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, PublicIDFromURL(in), in)
	}
}

func TestAssetFromURL(t *testing.T) {
	video := AssetFromURL("https://res.cloudinary.com/demo/video/upload/v1712/clip42.mp4")
	assert.Equal(t, Asset{
		URL:          "https://res.cloudinary.com/demo/video/upload/v1712/clip42.mp4",
		PublicID:     "clip42",
		ResourceType: "video",
	}, video)

	assert.Equal(t, "image", AssetFromURL("https://res.cloudinary.com/demo/image/upload/xyz.jpg").ResourceType)
	assert.Equal(t, "", AssetFromURL("https://cdn.example.com/media/0190c1a2-aaaa").ResourceType)
	assert.Equal(t, Asset{}, AssetFromURL("  "))
}
