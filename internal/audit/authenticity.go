package audit

import (
	"fmt"
	"strings"

	"hivecore/internal/types"
)

// disallowedMarkers are the placeholder / no-op signatures the
// authenticity stage rejects. Pass/fail only - a single hit fails the
// stage.
var disallowedMarkers = []string{
	"todo",
	"fixme",
	"placeholder",
	"not implemented",
	"not_implemented",
	"notimplementederror",
	"panic(\"unimplemented\")",
	"mock implementation",
	"stub implementation",
	"unchecked stub",
	"lorem ipsum",
	"coming soon",
}

// trivialAssertions are assertion bodies that can never fail and mark
// a fake verification suite.
var trivialAssertions = []string{
	"assert true",
	"assert(true)",
	"asserttrue(true)",
	"expect(true).tobe(true)",
	"if true {",
	"return true // always",
}

// checkAuthenticity scans a result's output and artifact references
// for disallowed markers.
func checkAuthenticity(result types.TaskResult) (bool, string) {
	corpus := strings.ToLower(result.Output)
	for _, a := range result.Artifacts {
		corpus += "\n" + strings.ToLower(a.Ref)
	}

	var found []string
	for _, marker := range disallowedMarkers {
		if strings.Contains(corpus, marker) {
			found = append(found, marker)
		}
	}
	for _, marker := range trivialAssertions {
		if strings.Contains(corpus, marker) {
			found = append(found, "trivial assertion: "+marker)
		}
	}

	if len(found) > 0 {
		return false, fmt.Sprintf("%v: disallowed markers: %s",
			types.ErrAuthenticityFailure, strings.Join(found, ", "))
	}
	return true, "no disallowed markers"
}
