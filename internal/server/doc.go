// Package server provides HTTP routing, middleware and the OAuth callback handler.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering, so path patterns such as
// /relay/{channel}/publish are available through [http.Request.PathValue].
//
// # OAuth Callback Handler
//
// [OAuthHandler] receives the provider redirect during `qrdeck auth login` and hands the parameters to a
// [Completer], which checks the state, exchanges the code with the PKCE verifier and persists the credential.
// The first callback with a matching state ends the flow; its result is sent on [OAuthHandler.Result].
//
// # Middleware
//
// [Logging] writes one debug line per request. [RateLimit] keeps a token bucket per key (requester id for relay
// publishes, [ClientIP] otherwise) and answers 429 when it is empty.
//
// # Serving
//
// [Serve] runs a handler on a listener until its context ends and then shuts down gracefully. Request contexts
// derive from that context so event streams close with the server.
package server
