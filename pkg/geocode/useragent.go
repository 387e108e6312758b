package geocode

import "fmt"

// DefaultProduct prefixes the User-Agent header.
const DefaultProduct = "osm-geocoder instance"

// UserAgent builds the header the provider's usage policy requires. A
// configured API key is used as-is; otherwise the installation is identified
// by a hash of its site name and key so the raw site name is never sent
// alongside address data.
func UserAgent(product, apiKey, siteName, siteKey string) string {
	if product == "" {
		product = DefaultProduct
	}
	id := apiKey
	if id == "" {
		id = shortSHA1(siteName + siteKey)
	}
	return fmt.Sprintf("%s (%s)", product, id)
}
