package compare

import "strings"

// soundexTable maps A..Z to soundex digits; 0 marks letters that are
// dropped and that separate runs of equal codes.
var soundexTable = [26]byte{
	0, '1', '2', '3', 0, '1', '2', 0, 0, '2', '2', '4', '5',
	'5', 0, '1', '2', '6', '2', '3', 0, '1', 0, '2', 0, '2',
}

// Soundex returns the four-character soundex key of s. Non-letters are
// skipped; an input without letters yields "".
// Example: Soundex("Robert") == Soundex("Rupert") == "R163"
func Soundex(s string) string {
	out := make([]byte, 0, 4)
	var last byte
	for _, r := range strings.ToUpper(s) {
		if r < 'A' || r > 'Z' {
			continue
		}
		if len(out) == 0 {
			out = append(out, byte(r))
			last = soundexTable[r-'A']
			continue
		}
		code := soundexTable[r-'A']
		if code != last {
			if code != 0 {
				out = append(out, code)
			}
			last = code
		}
		if len(out) == 4 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	for len(out) < 4 {
		out = append(out, '0')
	}
	return string(out)
}

// SimilarText returns the number of matching bytes between a and b using
// the longest-common-substring recursion (Oliver, 1993).
func SimilarText(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	pos1, pos2, n := longestCommon(a, b)
	if n == 0 {
		return 0
	}
	return n +
		SimilarText(a[:pos1], b[:pos2]) +
		SimilarText(a[pos1+n:], b[pos2+n:])
}

func longestCommon(a, b string) (pos1, pos2, n int) {
	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > n {
				pos1, pos2, n = i, j, k
			}
		}
	}
	return pos1, pos2, n
}
