//go:build !debug

package cos

// Assert is a no-op unless built with -tags debug. Grounded on AIStore's
// cmn/debug build-tag split (debug_off.go vs. the debug-tagged variant):
// production binaries pay nothing for invariant checks, developer builds
// get a hard panic with context.
func Assert(cond bool, args ...any) {}

// Assertf is the formatted form of Assert.
func Assertf(cond bool, format string, args ...any) {}
