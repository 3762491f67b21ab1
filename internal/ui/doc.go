// Package ui implements the scanning terminal interface using bubbletea's Elm architecture.
//
// The (view) [Model] renders the current card and drives a [Controls] implementation:
//  1. [CardView] : the card panel, with space to tap (play, reveal, next card)
//  2. [EntryView] : manual entry of a card URL or track when the camera can't read a code
//
// Controller updates arrive on a channel and are read one at a time, so the view never blocks the game loop.
// The card panel shows title, artist and year only after the controller reports the reveal.
package ui
