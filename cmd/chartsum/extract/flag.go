package extract

import "strings"

// Flag vocabularies observed in lab extracts. Several synonymous spellings
// signal the same direction, e.g. "HIGH", "H" and ">".
var (
	positiveFlags = map[string]struct{}{
		"HIGH": {}, "H": {}, "ABNORMAL": {}, "ABN": {},
		"POSITIVE": {}, "POS": {}, ">": {}, "CRITICAL": {},
	}
	negativeFlags = map[string]struct{}{
		"LOW": {}, "L": {}, "NEGATIVE": {}, "NEG": {}, "NORMAL": {},
		"NORM": {}, "<": {}, "N": {}, "NAN": {}, "": {},
	}
)

// NormalizeFlag upper-cases and trims a nullable flag string. A nil flag
// normalizes to the empty string.
func NormalizeFlag(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*flag))
}

// IsPositiveFlag reports whether a flag signals a positive/abnormal-high
// result: membership in the positive vocabulary, or a leading "H" or ">".
// It is a pure function of the flag string.
func IsPositiveFlag(flag *string) bool {
	s := NormalizeFlag(flag)
	if _, ok := positiveFlags[s]; ok {
		return true
	}
	return strings.HasPrefix(s, "H") || strings.HasPrefix(s, ">")
}

// IsNegativeFlag reports whether a flag signals a negative/normal/low
// result: membership in the negative vocabulary (absent flags count as
// negative), or a leading "L" or "<". Independent of IsPositiveFlag: the
// two predicates are not mutually exclusive and a contrived flag may
// satisfy both; callers surface such rows in both views.
func IsNegativeFlag(flag *string) bool {
	s := NormalizeFlag(flag)
	if _, ok := negativeFlags[s]; ok {
		return true
	}
	return strings.HasPrefix(s, "L") || strings.HasPrefix(s, "<")
}

// IsFlagged reports whether the row carries any flag at all.
func IsFlagged(flag *string) bool {
	return flag != nil && strings.TrimSpace(*flag) != ""
}
