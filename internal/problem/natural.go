package problem

import (
	"sort"
	"strconv"
)

// naturalLess orders embedded integers by value, so rand-2 < rand-10.
func naturalLess(a string, b string) bool {
	for a != "" && b != "" {
		ca, restA, numA := chunk(a)
		cb, restB, numB := chunk(b)
		if numA && numB {
			na, _ := strconv.ParseUint(ca, 10, 64)
			nb, _ := strconv.ParseUint(cb, 10, 64)
			if na != nb {
				return na < nb
			}
			if len(ca) != len(cb) {
				return len(ca) < len(cb)
			}
		} else if ca != cb {
			if numA != numB {
				// digits sort before letters
				return numA
			}
			return ca < cb
		}
		a, b = restA, restB
	}
	return len(a) < len(b)
}

// chunk splits off the leading run of digits or non-digits.
func chunk(s string) (head string, rest string, digits bool) {
	digits = isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], s[i:], digits
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func sortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return naturalLess(names[i], names[j]) })
}
