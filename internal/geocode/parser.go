package geocode

import (
	"regexp"
	"strings"
)

// Unknown is the placeholder for suburb/city text that could not be parsed.
// These fields are cosmetic (display and coarse filtering only); unresolved
// coordinates are a different, load-bearing failure handled by Client.
const Unknown = "Unknown"

// cityPattern matches the fixed list of South African city names the
// marketplace launched with. It is only a display heuristic, isolated here so
// a reverse-geocoding collaborator can replace it.
var cityPattern = regexp.MustCompile(`(?i)Johannesburg|Pretoria|Cape Town|Durban|Bloemfontein|Port Elizabeth|East London|Kimberley|Polokwane|Nelspruit|Rustenburg|Potchefstroom|Klerksdorp|Witbank|Vanderbijlpark|Centurion|Sandton|Randburg|Roodepoort|Soweto|Midrand|Benoni|Boksburg|Germiston|Kempton Park|Springs|Alberton|Edenvale|Bedfordview`)

var digitPattern = regexp.MustCompile(`\d+`)
var postalPattern = regexp.MustCompile(`^\d{4}$`)

// ParseAddress extracts a best-effort suburb and city from a free-text
// address. It looks for a known city name first and takes the preceding
// component as the suburb, then falls back to the component before a
// four-digit postal code. Both default to Unknown.
func ParseAddress(address string) (suburb, city string) {
	suburb, city = Unknown, Unknown
	parts := strings.Split(address, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	for i, part := range parts {
		if cityPattern.MatchString(part) {
			city = part
			if i > 0 && !digitPattern.MatchString(parts[i-1]) {
				suburb = parts[i-1]
			} else if i > 1 && !digitPattern.MatchString(parts[i-2]) {
				suburb = parts[i-2]
			}
			return suburb, city
		}
	}
	// postal code fallback: "... , Suburb, 2196" or "... , City, Suburb, 2196"
	for i := len(parts) - 1; i > 0; i-- {
		if postalPattern.MatchString(parts[i]) {
			suburb = parts[i-1]
			if i > 1 {
				city = parts[i-2]
			}
			return suburb, city
		}
	}
	return suburb, city
}
