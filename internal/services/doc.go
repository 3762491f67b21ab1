// Package services wraps the HTTP APIs qrdeck talks to.
//
// # Spotify Web API
//
// [SpotifyService] implements [Player] (devices, transfer, play, pause, resume, playback state) and [Catalog]
// (track lookup). It holds no token: each call receives the credential to use, which keeps refresh decisions in
// the auth and playback packages.
//
// Each request is bounded by a per-request timeout. Responses are classified by status class, because the
// playback recovery rules depend on the distinction:
//   - 401 : [APIError] unwrapping to [shared.ErrAuthExpired]
//   - 403 : [shared.ErrPlaybackForbidden] (typically PREMIUM_REQUIRED or a restricted device)
//   - 404 : [shared.ErrDeviceNotFound] (the target device vanished)
//   - 429, 5xx : [shared.ErrNetwork]
//   - other : [shared.ErrAPIRequest]
//
// Transport errors and request timeouts wrap [shared.ErrNetwork]. Cancelling the caller's context returns the
// context error unchanged so a cancelled card session is not mistaken for an outage.
//
// # Raw HTTP
//
// [APIService] issues plain GET and POST requests and returns status, headers and body. It fetches card pages and
// talks to the relay hub.
package services
