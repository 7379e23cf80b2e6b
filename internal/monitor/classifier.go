package monitor

import "strings"

// Verdict is the classified failure for an unreachable backend, derived
// from the most recent buffered log text. It is recomputed each cycle and
// never stored.
type Verdict struct {
	Reason     string
	Suggestion string
}

// DefaultVerdict is returned when no rule matches.
var DefaultVerdict = Verdict{
	Reason:     "Unknown error",
	Suggestion: "Check logs manually",
}

type rule struct {
	marker  string
	verdict Verdict
}

// Rules are ordered; the first marker found in the log text wins.
var rules = []rule{
	{
		marker: "ENOMEM",
		verdict: Verdict{
			Reason:     "Memory exhaustion",
			Suggestion: "Restart container with more memory",
		},
	},
	{
		marker: "EADDRINUSE",
		verdict: Verdict{
			Reason:     "Port conflict",
			Suggestion: "Restart the container to release and rebind its port",
		},
	},
	{
		marker: "ECONNREFUSED",
		verdict: Verdict{
			Reason:     "Dependency unreachable",
			Suggestion: "Check that linked services are running and restart the container",
		},
	},
	{
		marker: "MODULE_NOT_FOUND",
		verdict: Verdict{
			Reason:     "Missing dependency",
			Suggestion: "Rebuild the project so dependencies are installed",
		},
	},
}

// Classify maps raw log text to a Verdict using the ordered rule list.
func Classify(logText string) Verdict {
	for _, r := range rules {
		if strings.Contains(logText, r.marker) {
			return r.verdict
		}
	}
	return DefaultVerdict
}
