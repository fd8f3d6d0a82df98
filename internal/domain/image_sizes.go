package domain

import "strconv"

// ImageSize is the nominal pixel-width tag of one image rendition.
type ImageSize int

func (s ImageSize) String() string {
	return strconv.Itoa(int(s))
}

const (
	ImageSize60  ImageSize = 60
	ImageSize144 ImageSize = 144
	ImageSize250 ImageSize = 250
	ImageSize500 ImageSize = 500
)

// KnownImageSizes lists the renditions the API is known to serve.
var KnownImageSizes = []ImageSize{
	ImageSize60,
	ImageSize144,
	ImageSize250,
	ImageSize500,
}

// Known reports whether s is a rendition the API is known to serve.
func (s ImageSize) Known() bool {
	for _, size := range KnownImageSizes {
		if size == s {
			return true
		}
	}
	return false
}
