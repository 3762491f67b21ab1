// Package playback drives remote playback on a Spotify Connect device.
//
// [DeviceController] resolves the target device. If the account already has an active device it is used as is;
// otherwise playback is transferred to the configured device and the device list is polled until it reports
// active. The resolved handle is cached until [DeviceController.Invalidate] is called.
//
// [Commander] issues one remote command per call and recovers from failures with a shared [retry.Policy]:
//
//   - 401: refresh the credential once and retry, then [shared.ErrAuthExpired]
//   - 403: re-resolve the device once and retry, then [shared.ErrPlaybackForbidden]
//   - 404: re-resolve the device once and retry, then [shared.ErrDeviceNotFound]
//   - network and timeouts: retry with backoff, then [shared.ErrUnreachable]
//
// Play is guarded per card session: a second Play for a session whose first is still outstanding returns
// [shared.ErrCommandInFlight] immediately.
package playback
