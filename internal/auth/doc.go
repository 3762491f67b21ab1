// Package auth holds the delegated-authorization credential and the PKCE flow that produces it.
//
// # Credential store
//
// [Store] is the single process-wide owner of the current [models.Credential]. It is restored from its
// [Persister] at start-up, replaced only by [Store.Commit] (which persists before swapping, so a failed write
// leaves the previous credential intact) and dropped by [Store.Clear] on logout or an irrecoverable refresh.
//
// # Authorization flow
//
// [Flow.Begin] generates a state and verifier, keeps them for the lifetime of the Flow, and returns the
// provider URL carrying the S256 challenge. [Flow.Complete] takes the redirect's query parameters, checks the
// state and exchanges the code with the stored verifier. There is no client secret.
//
// [Flow.Credential] is the only way callers should obtain a credential for a request: an expired credential is
// refreshed first. [Flow.Refresh] retries transient token endpoint failures and maps a rejected refresh token to
// [shared.ErrAuthExpired].
package auth
