// Package version holds the build version and the producer versions stamped
// into scan graphs, cache keys and run metadata.
package version

// Set at build time:
//
//	go build -ldflags "-X github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/version.Version=1.0.0"
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// ScanGraphProducer identifies the scan graph builder. Bump it whenever
// classification or hint extraction output changes so that cache keys and
// reuse decisions stop matching older graphs.
const ScanGraphProducer = "scangraph/1.2.0"

// HintsProducer identifies the hint extraction rule set.
const HintsProducer = "hints/1.1.0"

// Info returns the version, with the short commit when one was stamped.
func Info() string {
	if len(Commit) > 7 && Commit != "unknown" {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns a multi-line build description.
func Full() string {
	return "bdk version " + Version + "\nCommit: " + Commit + "\nBuilt: " + BuildDate
}

// Producers returns a fresh copy of the producer version map.
func Producers() map[string]string {
	return map[string]string{
		"bdk":       Version,
		"scangraph": ScanGraphProducer,
		"hints":     HintsProducer,
	}
}
