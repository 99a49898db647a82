// Package anchorkit provides small, pure utilities for building, encoding,
// decoding and checking anchor payloads, the audit records the notary writes
// onto the ledger.
//
// Scope:
//   - Build a normalized Payload from submission metadata and a content id
//   - Encode a Payload as canonical JSON in the ledger's tryte alphabet
//   - Decode ledger messages back into Payloads (MalformedPayload on failure)
//   - Recompute and compare declared file hashes
//
// Non-goals:
//   - No network, ledger or storage dependencies
//   - No logging; keep functions small and deterministic
package anchorkit
