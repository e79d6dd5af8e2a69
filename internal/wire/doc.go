// Package wire implements the payload codec between in-process documents
// and the catalog wire format.
//
// The codec is pure: no I/O, no state. Every field of every message carries
// an explicit wire name on the type itself - there is deliberately no
// global naming-convention rule, because a convention applied independently
// at the encoder and decoder can drift the moment one side changes.
//
// Payloads are self-contained snapshots. A queued operation may execute
// long after the source document changed, so everything the remote call
// needs (notably the public identifier for unpublish) is captured by value
// at encode time.
//
// Nested document content is always a structured JSON object on the wire,
// never a string containing JSON. The content shapes the catalog accepts
// form a closed union (Content); the recursive Value sum type is used only
// at the fields that are genuinely schema-free.
package wire
