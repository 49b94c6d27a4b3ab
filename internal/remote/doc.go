// Package remote exposes a simulator to remote callers.
//
// Every operation is an entry of a [Table] built once from a
// [simulator.Facade]; entries only decode arguments and forward. Operation
// names carry the [Prefix], e.g. "ScenSimStartGeneratingSessions".
//
// The HTTP transport accepts
//
//	POST /rpc        {"operation": "ScenSimSetSessionRate", "args": {"rate": 5}}
//	GET  /operations
//
// and answers {"result": ...} or {"error": {"kind": ..., "message": ...}},
// where kind is the simerr class of the failure.
package remote
