package bus

// Endpoint receives messages fire-and-forget.
type Endpoint interface {
	Send(msg any)
}

// EndpointFunc adapts a function to an Endpoint.
type EndpointFunc func(msg any)

func (f EndpointFunc) Send(msg any) {
	f(msg)
}
