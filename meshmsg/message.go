// Package meshmsg defines the capability a user message type must satisfy
// to flow through a Publisher/Subscriber pair.
package meshmsg

// Message is the conversion contract a pub/sub payload type must implement.
// MessagePtr below constrains generic code to pointer receivers so
// SetFromJSON can mutate the value in place.
type Message interface {
	// ToJSON converts the receiver into a wire-ready value (a struct, map, or
	// bson.D/bson.M — anything the BSON codec can marshal as a document).
	ToJSON() any
	// SetFromJSON populates the receiver from a decoded document.
	SetFromJSON(doc map[string]any) error
}

// MessagePtr constrains a type parameter to pointer types whose pointee
// implements Message, so generic code can instantiate a zero value with new
// and call pointer-receiver methods on it directly.
type MessagePtr[T any] interface {
	*T
	Message
}
