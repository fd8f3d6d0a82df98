package domain

// ImageVariant is one rendition of a product image as advertised by the API.
type ImageVariant struct {
	Size ImageSize `json:"tamanho"`
	URL  string    `json:"localizacao"`
}

// Product is one catalog record as returned by the import API.
type Product struct {
	ExternalCode string         `json:"codigo_erp"`
	Images       []ImageVariant `json:"imagemUrls"`
}

// BestImage selects the URL to download for this product. A variant matching
// the preferred size wins; otherwise the numerically largest remaining size is
// used. Among variants sharing the same size tag the first one in the API's
// order wins, so the result is stable for a given response.
func (p Product) BestImage(preferred ImageSize) (string, bool) {
	for _, img := range p.Images {
		if img.Size == preferred {
			return img.URL, true
		}
	}

	var best ImageVariant
	found := false
	for _, img := range p.Images {
		if !found || img.Size > best.Size {
			best = img
			found = true
		}
	}

	if !found {
		return "", false
	}
	return best.URL, true
}
