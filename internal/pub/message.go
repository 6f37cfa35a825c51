package pub

// messageOverheadBytes is the per-message accounting overhead added on top
// of the payload, key, and attribute sizes, mirroring the accounting used
// by hosted pub/sub services.
const messageOverheadBytes = 20

// Message is a single publishable unit. Messages are immutable once
// submitted to a Publisher.
type Message struct {
	// OrderingKey scopes sequential-delivery guarantees. The empty string
	// is a valid key meaning "no ordering requested".
	OrderingKey string `json:"orderingKey,omitempty"`
	// Data is the opaque payload.
	Data []byte `json:"data"`
	// Attributes carries application metadata alongside the payload.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Size returns the number of bytes this message contributes to batch-size
// accounting.
func (m Message) Size() int {
	n := len(m.Data) + len(m.OrderingKey) + messageOverheadBytes
	for k, v := range m.Attributes {
		n += len(k) + len(v)
	}
	return n
}
