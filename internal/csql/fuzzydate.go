package csql

import (
	"fmt"
	"sort"
	"time"
)

// fuzzyDateCandidates returns the plausible mistyped variants of a date:
// the date itself, the month/day transposition when valid, and every
// variant produced by swapping adjacent digit pairs within the year,
// month, and day fields. Output is deduplicated and sorted.
func fuzzyDateCandidates(d time.Time) []string {
	y, m, day := d.Date()

	seen := map[string]struct{}{}
	add := func(yy, mm, dd int) {
		if !validDate(yy, mm, dd) {
			return
		}
		seen[fmt.Sprintf("%04d-%02d-%02d", yy, mm, dd)] = struct{}{}
	}

	add(y, int(m), day)
	add(y, day, int(m)) // month/day transposed

	for _, yy := range digitSwaps4(y) {
		add(yy, int(m), day)
		add(yy, day, int(m))
	}
	add(y, swap2(int(m)), day)
	add(y, int(m), swap2(day))
	add(y, swap2(day), swap2(int(m)))

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func validDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	return d <= daysInMonth(y, time.Month(m))
}

// swap2 swaps the two digits of a two-digit value (07 -> 70).
func swap2(n int) int {
	return (n%10)*10 + n/10
}

// digitSwaps4 returns the year variants produced by swapping each pair
// of adjacent digits (1995 -> 9195, 1959, 1995 -> skipped as identical).
func digitSwaps4(y int) []int {
	digits := []int{y / 1000 % 10, y / 100 % 10, y / 10 % 10, y % 10}
	var out []int
	for i := 0; i < 3; i++ {
		d := append([]int(nil), digits...)
		d[i], d[i+1] = d[i+1], d[i]
		v := d[0]*1000 + d[1]*100 + d[2]*10 + d[3]
		if v != y {
			out = append(out, v)
		}
	}
	return out
}
