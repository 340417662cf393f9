// Package session runs the live loop between a scanned registry and an
// attached target.
//
// Each cycle runs four phases in order:
//
//  1. write: drain queued setting updates, encode them to the setting's
//     kind and write them to the target
//  2. log: drain the log channels and forward the decoded records
//  3. read: read every metric and setting and bind the raw values under
//     their declared names
//  4. evaluate: evaluate metric formulas, then graphs, and emit only the
//     values that changed
//
// A probe error in any phase ends the session in the FAULTED state. Stop
// and context cancellation end it in the DETACHED state.
package session
