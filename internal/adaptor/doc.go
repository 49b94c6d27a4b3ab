// Package adaptor defines the protocol adaptor contract used by the simulator core.
//
// The core only needs three capabilities from an endpoint's transport: send a
// message, receive a message and close. An [Adaptor] is bound to one endpoint
// and opens a [Channel] per dialog; the dialog state machine drives the
// channel and never sees the underlying protocol.
//
// # Catalog
//
// Adaptor types are registered by name in a [Catalog] together with the
// schemas they serve:
//
//	catalog := adaptor.NewCatalog()
//	catalog.Register(adaptor.EchoTypeInfo(), adaptor.NewEcho)
//	factory, info, ok := catalog.Lookup("echo")
//
// # Echo adaptor
//
// The built-in "echo" type replies to every sent message, optionally with a
// fixed payload, a delay, an admission rate limit or an outright rejection.
// It is the reference adaptor for end-to-end tests.
//
// # Rejections
//
// Adaptors report inbound rejections (refused connection, overload) by
// wrapping [ErrRejected]; every other failure is a runtime error.
package adaptor
