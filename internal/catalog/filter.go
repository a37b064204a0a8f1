package catalog

import "sort"

// Languages returns the distinct language tags across the catalog,
// lexicographically sorted. Stable ordering keeps the language dropdown and
// tests deterministic. An empty catalog yields an empty (non-nil) slice.
func Languages(voices []Voice) []string {
	seen := make(map[string]struct{})
	for _, v := range voices {
		for _, code := range v.LanguageCodes {
			seen[code] = struct{}{}
		}
	}
	langs := make([]string, 0, len(seen))
	for code := range seen {
		langs = append(langs, code)
	}
	sort.Strings(langs)
	return langs
}

// Filter keeps voices whose language set contains language and whose gender
// matches the filter. An empty language and GenderAll each match everything.
// Order-preserving relative to the input. Both predicates are pure; the
// result is always recomputed from the full catalog.
func Filter(voices []Voice, language, gender string) []Voice {
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if language != "" && !hasLanguage(v, language) {
			continue
		}
		if gender != GenderAll && v.SsmlGender != gender {
			continue
		}
		out = append(out, v)
	}
	return out
}

func hasLanguage(v Voice, language string) bool {
	for _, code := range v.LanguageCodes {
		if code == language {
			return true
		}
	}
	return false
}
