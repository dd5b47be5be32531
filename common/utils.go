package common

import "fmt"

// Align8 rounds n up to the nearest multiple of 8.
func Align8(n int) int {
	return (n + 7) &^ 7
}

// AlignedTo8 reports whether n is a multiple of 8.
func AlignedTo8(n int) bool {
	return n%8 == 0
}

// Assert panics if cond is false. It is reserved for internal invariants:
// conditions that cannot hold unless the engine itself is broken (a negative
// pin count, a cyclic directory chain). Expected failures such as an invalid
// record id or an exhausted allocator return errors instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
