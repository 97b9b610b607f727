// Package pipeline runs one operation request through the analyzer and the
// router, and one content payload through the compression engine, on behalf
// of the host.
//
// Every invocation gets its own SessionContext carrying the shared cache
// and learning handles. Nothing in this package returns an error to the
// host on the request path: a stage that fails or panics yields the
// fallback response and the host proceeds unassisted.
//
// Routing outcomes are reported back through RecordOutcome, keyed by the
// operation id of the original request, and land in the learning store as
// routing events for every provider the decision chose.
package pipeline
