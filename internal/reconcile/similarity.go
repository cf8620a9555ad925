package reconcile

import (
	"sort"

	"golang.org/x/text/cases"
)

// similarity.go implements the sequence ratio behind the name signal
// and the close-match suggestions used by bulk imports.

// Ratio returns a similarity ratio in [0, 1] for two strings using the
// Ratcliff/Obershelp measure: twice the number of matching runes over
// the combined length. Comparison is case-sensitive; callers fold case
// first when they want case-insensitive scores. Two empty strings have
// ratio 1.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1.0
	}
	m := matchingTotal(ra, rb)
	return 2.0 * float64(m) / float64(len(ra)+len(rb))
}

// matchingTotal sums the lengths of all matching blocks, found by
// recursing around the longest common block on each side.
func matchingTotal(a, b []rune) int {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	total := 0
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		i, j, k := longestMatch(a, b2j, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		total += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return total
}

// longestMatch finds the longest block of equal runes within the given
// bounds. Ties resolve to the earliest position in a, then in b.
func longestMatch(a []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	besti, bestj = alo, blo
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}

// DefaultCutoff is the minimum ratio for CloseMatches suggestions.
const DefaultCutoff = 0.5

// CloseMatches returns up to n candidates whose case-folded Ratio
// against s is at least cutoff, best first. Ties keep candidate order.
func CloseMatches(s string, candidates []string, n int, cutoff float64) []string {
	if n <= 0 {
		return nil
	}
	folded := fold(s)

	type scored struct {
		value string
		ratio float64
	}
	var hits []scored
	for _, c := range candidates {
		if r := Ratio(folded, fold(c)); r >= cutoff {
			hits = append(hits, scored{c, r})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].ratio > hits[j].ratio })
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.value
	}
	return out
}

// fold lowercases for comparison, handling non-ASCII properly.
// Casers are stateful, so each call builds its own.
func fold(s string) string {
	return cases.Fold().String(s)
}
