package query

// levenshtein computes the classic edit distance between a and b, used for
// text_contains's optional fuzzy matching. SQLite FTS5 has no built-in fuzzy
// operator, so fuzzy requests run an exact FTS prefilter to shrink the
// candidate set, then this function re-checks each candidate's indexed
// text against the query within the configured distance.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(del, minInt(ins, sub))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// containsFuzzy reports whether needle approximately occurs in haystack:
// any substring window of haystack within len(needle)±maxDist runes whose edit
// distance to needle is ≤ maxDist.
func containsFuzzy(haystack, needle string, maxDist int) bool {
	if needle == "" {
		return true
	}
	hr := []rune(haystack)
	nr := []rune(needle)
	windowLo := maxInt(1, len(nr)-maxDist)
	windowHi := len(nr) + maxDist

	for size := windowLo; size <= windowHi; size++ {
		if size > len(hr) {
			continue
		}
		for start := 0; start+size <= len(hr); start++ {
			if levenshtein(string(hr[start:start+size]), needle) <= maxDist {
				return true
			}
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
