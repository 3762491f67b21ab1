// Package models defines the entities passed between the qrdeck session components.
//
// The package contains two categories of types:
//
// 1. Values exchanged with the playback provider and the relay:
//   - [Credential] : delegated-authorization credential with its expiry
//   - [DeviceHandle] : a Spotify Connect playback target
//   - [RelayRequest] : a play or pause request published by a non-host device
//
// 2. Persistent entities:
//   - [Round] : one card session, from scan to reveal
//
// Persistent entities implement the [Model] interface and are stored through a [Repository].
//
// Card metadata (artist, title, year) is deliberately absent here; it lives in the cards package where only a
// revealed session can read it.
package models
