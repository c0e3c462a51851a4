// Package outbound compiles results into server-sent-event frames.
//
// Every function returns one complete frame: the ASCII prefix "data: ", one
// JSON object, and two newline characters. Response objects always carry
// "jsonrpc":"2.0" followed by the echoed request id and then either "result"
// or "error", in that order. HTML characters are not escaped.
//
// A frame is returned as a fresh byte slice that the caller owns; frames are
// meant to be handed to a session stream, which writes each one atomically.
package outbound
