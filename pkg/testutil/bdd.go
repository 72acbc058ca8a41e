package testutil

import "testing"

// Given, When and Then nest subtests so `go test -v` prints a scenario as
// readable prose.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	clause(t, "Given", desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	clause(t, "When", desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	clause(t, "Then", desc, fn)
}

func clause(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(keyword+" "+desc, fn) {
		t.Logf("%s %s: failed", keyword, desc)
	}
}
