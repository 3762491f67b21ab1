// Package cards models a scanned music card and the per-card session a player taps through.
//
// A [Session] moves Hidden → Playing → Revealed:
//
//	Hidden   --tap--> play; Playing on success, Hidden with an error on failure
//	Playing  --tap--> pause and reveal, whatever the pause outcome
//	Revealed --tap--> scan the next card
//
// Artist, title and year are only returned by [Session.Metadata] once Revealed. [Card] formats without them,
// so logs and error paths cannot leak a track's identity.
//
// [Loader] reads card pages. The track comes from the first spotify:track URI on the page; metadata comes from
// data-title/data-artist/data-year attributes or card:* meta tags, and is otherwise filled from the Spotify
// catalog.
package cards
