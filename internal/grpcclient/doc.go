// Package grpcclient implements the "grpc" protocol adaptor.
//
// The adaptor parses the endpoint's proto_file at creation and resolves the
// configured service. Each message a dialog sends is one unary call: the
// method comes from the "method" attribute, the message name, or the
// endpoint's default method, and the JSON body is decoded into a dynamic
// request message. The reply is delivered as an inbound message named by the
// status code ("OK", "NotFound") with the JSON-encoded response as body.
//
// UNAVAILABLE and RESOURCE_EXHAUSTED are reported as [adaptor.ErrRejected].
// All dialogs of an endpoint share one connection.
package grpcclient
