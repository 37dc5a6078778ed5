package ir

// Version constants for IR schema and simulator.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// EngineVersion is the ownsim simulator version.
	EngineVersion = "0.1.0"
)
