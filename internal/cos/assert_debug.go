//go:build debug

package cos

import "fmt"

// Assert panics with args as context when cond is false. Only compiled
// into -tags debug builds; see assert_off.go for the production no-op.
func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprint(append([]any{"assertion failed: "}, args...)...))
	}
}

// Assertf is the formatted form of Assert.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
