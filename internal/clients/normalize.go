package clients

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// demonyms covers the nationalities operators type most often, plus
// informal country abbreviations the region parser does not know.
var demonyms = map[string]string{
	"uae":        "AE",
	"emirati":    "AE",
	"uk":         "GB",
	"england":    "GB",
	"british":    "GB",
	"usa":        "US",
	"american":   "US",
	"russian":    "RU",
	"indian":     "IN",
	"german":     "DE",
	"french":     "FR",
	"italian":    "IT",
	"spanish":    "ES",
	"dutch":      "NL",
	"saudi":      "SA",
	"pakistani":  "PK",
	"chinese":    "CN",
	"kazakh":     "KZ",
	"ukrainian":  "UA",
	"egyptian":   "EG",
	"lebanese":   "LB",
	"jordanian":  "JO",
	"filipino":   "PH",
	"canadian":   "CA",
	"australian": "AU",
	"turkish":    "TR",
	"iranian":    "IR",
	"omani":      "OM",
	"kuwaiti":    "KW",
	"qatari":     "QA",
	"bahraini":   "BH",
}

var (
	regionNamesOnce sync.Once
	regionNames     map[string]string
)

// englishRegionNames maps lower-cased English country names to alpha-2 codes.
func englishRegionNames() map[string]string {
	regionNamesOnce.Do(func() {
		namer := display.English.Regions()
		regionNames = make(map[string]string, 260)
		for a := 'A'; a <= 'Z'; a++ {
			for b := 'A'; b <= 'Z'; b++ {
				region, err := language.ParseRegion(string([]rune{a, b}))
				if err != nil || !region.IsCountry() {
					continue
				}
				if name := namer.Name(region); name != "" {
					regionNames[strings.ToLower(name)] = region.String()
				}
			}
		}
	})
	return regionNames
}

// NormalizeCountry resolves an ISO code, English country name or common
// nationality to an ISO-3166 alpha-2 code.
func NormalizeCountry(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	lower := strings.ToLower(value)
	if code, ok := demonyms[lower]; ok {
		return code, true
	}
	if len(value) == 2 || len(value) == 3 {
		if region, err := language.ParseRegion(value); err == nil && region.IsCountry() {
			return region.String(), true
		}
	}
	if code, ok := englishRegionNames()[lower]; ok {
		return code, true
	}
	return "", false
}

// NormalizeGender maps free text onto "Male" or "Female".
func NormalizeGender(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "."))) {
	case "m", "male", "man", "mr":
		return "Male", true
	case "f", "female", "woman", "mrs", "ms", "miss":
		return "Female", true
	default:
		return "", false
	}
}
