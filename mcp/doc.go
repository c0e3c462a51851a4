// Package mcp contains the protocol data types and constants shared by the
// request model, the capability registries, the response compiler and the
// transports. It mirrors the wire representation of the Model Context
// Protocol subset this module serves while keeping the surface Go-friendly:
// exported structs with json tags and string constants for method names.
//
// The package holds no transport or dispatch logic.
//
// # Field order
//
// Result structs declare their fields in the order they appear on the wire.
// The response compiler relies on encoding/json emitting struct fields in
// declaration order to produce byte-stable frames, so reordering fields here
// changes the output.
//
// # Optional fields
//
// Descriptor fields that are optional on the wire (a resource's title, size
// and icons, a list's nextCursor) use omitempty and are never emitted as
// null or empty placeholders. Fields that are mandatory on the wire (a tool's
// inputSchema, an icon's sizes) are always emitted; the compiler normalizes
// nil values to their empty JSON form.
package mcp
