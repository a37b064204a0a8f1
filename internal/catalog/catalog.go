// Package catalog retrieves and filters the cloud TTS voice catalog.
package catalog

// Gender tags as returned by the voice-listing endpoint.
const (
	GenderMale    = "MALE"
	GenderFemale  = "FEMALE"
	GenderNeutral = "NEUTRAL"

	// GenderAll is the wildcard filter value; it matches every entry.
	GenderAll = "ALL"
)

// Voice is a single catalog entry. Entries are transient fetch results and
// are never persisted.
type Voice struct {
	Name                   string   `json:"name"`
	LanguageCodes          []string `json:"languageCodes"`
	SsmlGender             string   `json:"ssmlGender"`
	NaturalSampleRateHertz int      `json:"naturalSampleRateHertz"`
}

// ValidGenderFilter reports whether g is a usable gender filter value.
func ValidGenderFilter(g string) bool {
	switch g {
	case GenderAll, GenderMale, GenderFemale, GenderNeutral:
		return true
	}
	return false
}
