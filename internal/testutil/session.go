package testutil

// DefaultSessionID is used when a scenario does not name its session.
const DefaultSessionID = "test-session-default"

// FixedSessionGenerator hands out the same session ID on every call.
//
// Event IDs hash the session ID, so pinning it is what makes two runs of
// the same scenario produce byte-identical traces and golden files.
// sim.FixedGenerator, by contrast, hands out a list of IDs in order and
// panics when it runs out.
//
// Stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator for id.
// An empty id falls back to DefaultSessionID.
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = DefaultSessionID
	}
	return &FixedSessionGenerator{id: id}
}

// Generate returns the fixed session ID.
// Implements sim.SessionIDGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
