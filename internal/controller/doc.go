// Package controller runs the card game: it takes scans, taps and relayed requests and drives card sessions,
// playback and the relay from one event loop.
//
// A scan loads a card in the background and starts a new Hidden session, discarding the previous one. A tap
// plays (Hidden), reveals and pauses (Playing), or ends the session (Revealed). Background results carry the
// token of the session they were started for and are dropped when that session is gone.
//
// In [ModeRelay] taps publish requests instead of playing. In [ModeHost] relayed requests are executed one at a
// time: redelivered request ids are dropped, a play of the track already playing is a no-op, and while a request
// runs only the newest waiting request is kept.
//
// Progress is reported on the [Update] channel. Card metadata appears there only after the reveal.
package controller
