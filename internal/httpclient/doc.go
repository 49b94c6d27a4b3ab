// Package httpclient implements the "http" protocol adaptor.
//
// Every message a dialog sends becomes one HTTP request against the
// endpoint's base address; the response comes back as an inbound message
// named by its status code ("200", "404"), carrying the status, protocol and
// response headers as attributes and the body (up to max_body bytes).
//
// # Request Building
//
// [RequestBuilder] derives the request from the message:
//   - method: the "method" attribute, else the message name when it is an
//     HTTP verb, else the endpoint's "method" property (default POST)
//   - URL: the "path" attribute resolved against the base address
//   - headers: endpoint "header.<Name>" properties, then message
//     "header.<Name>" attributes
//   - body: the message body, else the endpoint's body_file
//
// # Rejections
//
// A refused dial and any status listed in reject_status (default 429,503)
// surface as [adaptor.ErrRejected] so the dialog ends as rejected rather
// than as an error.
//
// Trace context is injected into request headers unless propagate=false.
package httpclient
