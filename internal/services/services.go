// package services defines the provider interfaces used by playback and card loading
//
// Spotify Web API, raw HTTP (card pages, relay hub)
package services

import (
	"context"

	"github.com/skywisej/qr-music-card-maker/internal/models"
)

// Player is the remote playback surface of the provider.
//
// Every call takes the credential to use; implementations never refresh on their own.
type Player interface {
	// Devices lists the playback targets visible to the account.
	Devices(ctx context.Context, cred *models.Credential) ([]models.DeviceHandle, error)

	// TransferPlayback designates deviceID as the active target.
	TransferPlayback(ctx context.Context, cred *models.Credential, deviceID string, play bool) error

	// Play starts uris on deviceID.
	Play(ctx context.Context, cred *models.Credential, deviceID string, uris []string) error

	// Pause pauses deviceID.
	Pause(ctx context.Context, cred *models.Credential, deviceID string) error

	// Resume resumes deviceID.
	Resume(ctx context.Context, cred *models.Credential, deviceID string) error

	// PlaybackState reports what is playing, or nil when nothing is.
	PlaybackState(ctx context.Context, cred *models.Credential) (*PlaybackState, error)
}

// Catalog looks up track metadata.
type Catalog interface {
	Track(ctx context.Context, cred *models.Credential, trackID string) (*SpotifyTrack, error)
}

var (
	_ Player  = (*SpotifyService)(nil)
	_ Catalog = (*SpotifyService)(nil)
)
