package gremlin

// assert panics on a violated internal invariant: a bug in this package,
// never a consequence of user input or server behavior. Mirrors the
// teacher SDK's mcp.assert.
func assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
