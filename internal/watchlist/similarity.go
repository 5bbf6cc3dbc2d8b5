package watchlist

import (
	"slices"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Ratio returns the Ratcliff/Obershelp similarity 2*M/T of two strings,
// compared rune by rune with no junk heuristic. Two empty strings have
// ratio 1.
func Ratio(a, b string) float64 {
	return ratioChars(splitChars(a), splitChars(b))
}

func ratioChars(a, b []string) float64 {
	return difflib.NewMatcherWithJunk(a, b, false, nil).Ratio()
}

// splitChars returns the runes of s as one-character strings.
func splitChars(s string) []string {
	chars := make([]string, 0, len(s))
	for _, r := range s {
		chars = append(chars, string(r))
	}
	return chars
}

// lengthBound is an upper bound on the ratio from lengths alone.
func lengthBound(la, lb int) float64 {
	if la+lb == 0 {
		return 1
	}
	return 2 * float64(min(la, lb)) / float64(la+lb)
}

// multisetBound is an upper bound on the ratio from the shared character
// multiset. Both inputs must be sorted.
func multisetBound(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	common := 0
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			common++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return 2 * float64(common) / float64(total)
}

func sortedRunes(r []rune) []rune {
	s := slices.Clone(r)
	slices.Sort(s)
	return s
}

// Normalize lower-cases and trims a name.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Soundex returns the four-character phonetic key of a word, or "" when the
// word has no ASCII letters.
func Soundex(s string) string {
	var letters []byte
	for _, r := range strings.ToUpper(s) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, byte(r))
		}
	}
	if len(letters) == 0 {
		return ""
	}

	// Keep first letter
	result := []byte{letters[0]}
	prevCode := soundexCodes[letters[0]]

	for i := 1; i < len(letters) && len(result) < 4; i++ {
		c := letters[i]
		code, ok := soundexCodes[c]
		if !ok {
			// H and W do not separate equal codes; vowels do.
			if c != 'H' && c != 'W' {
				prevCode = 0
			}
			continue
		}
		if code != prevCode {
			result = append(result, code)
		}
		prevCode = code
	}

	// Pad with zeros
	for len(result) < 4 {
		result = append(result, '0')
	}
	return string(result)
}

var soundexCodes = map[byte]byte{
	'B': '1', 'F': '1', 'P': '1', 'V': '1',
	'C': '2', 'G': '2', 'J': '2', 'K': '2', 'Q': '2', 'S': '2', 'X': '2', 'Z': '2',
	'D': '3', 'T': '3',
	'L': '4',
	'M': '5', 'N': '5',
	'R': '6',
}

// soundexKeys returns the distinct Soundex keys of the words in s.
func soundexKeys(s string) []string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	keys := make([]string, 0, len(words))
	for _, w := range words {
		k := Soundex(w)
		if k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}
