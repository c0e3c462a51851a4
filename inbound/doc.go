// Package inbound turns decoded JSON-RPC envelopes into typed requests.
//
// Every supported method maps to one variant of the sealed Request
// interface; unrecognized methods become Other and keep their raw params so
// that a fallback handler can process them. Parameter decoding is governed
// by a per-method ParamPolicy: Strict methods reject malformed or missing
// params with a *ParamsError, Lenient methods fall back to the zero value of
// their parameter model. Neither path panics on untrusted input.
//
//	p, err := inbound.Decode(body)
//	if err != nil {
//	    // *jsonrpc.DecodeError or *inbound.ParamsError
//	}
//	switch req := p.Request.(type) {
//	case inbound.ToolsCall:
//	    ...
//	}
package inbound
