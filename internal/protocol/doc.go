// Package protocol owns the front-end/authority wire contract.
//
// Ownership boundary:
// - opcode catalogue and length table
// - per-message encoders/decoders over complete frames
// - fixed-width string and address helpers
//
// Framing and dispatch live in the frame and dispatch subpackages.
package protocol
