package types

// Event represents a typed event emitted during ledger state transitions.
// Attribute values are strings so downstream consumers (RPC, indexers) can
// forward them without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
