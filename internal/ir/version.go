package ir

// Version constants stamped on stored traces.
const (
	// FormatVersion is the version of the canonical command description format.
	FormatVersion = "1"

	// EngineVersion is the tablesync engine version.
	EngineVersion = "0.1.0"
)
