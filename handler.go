package relink

// Handler processes a single inbound message.
type Handler interface {
	// Handle processes one decoded envelope.
	Handle(msg Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg Message)

// Handle implements Handler.
func (fn HandlerFunc) Handle(msg Message) {
	fn(msg)
}
