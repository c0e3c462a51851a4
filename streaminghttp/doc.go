// Package streaminghttp exposes an mcpserver.Server over HTTP. One endpoint
// serves three verbs:
//
//   - POST carries one JSON-RPC message. A POST without an Mcp-Session-Id
//     header must be initialize; it creates the session and the response
//     advertises the new id in Mcp-Session-Id. Other POSTs name an existing
//     session. Notifications are answered with 202 Accepted.
//   - GET binds the response as the session's event stream. While a stream is
//     bound every frame of the session, including responses to later POSTs,
//     is written there and those POSTs are answered with 202. Without a
//     stream the response frame is returned in the POST body. A second GET
//     for the same open session is rejected with 409; disconnecting the
//     stream closes the session.
//   - DELETE closes the session.
//
// Every frame is a single Server-Sent Event of the form "data: <json>\n\n".
//
// Construction
//
//	h, err := streaminghttp.New(ctx, "http://localhost:8080/mcp", srv,
//	    streaminghttp.WithLogger(log),
//	    streaminghttp.WithRateLimit(10, 20),
//	)
//
// Example (mount in net/http):
//
//	http.ListenAndServe(":8080", h)
package streaminghttp
