package types

// Event is the wire form of a protocol event: a type tag plus flat string
// attributes, ready for JSON transport or log indexing.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
