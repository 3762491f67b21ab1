package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/skywisej/qr-music-card-maker/internal/controller"
)

var (
	_ tea.Msg = updateMsg{}
	_ tea.Msg = closedMsg{}
	_ tea.Msg = submitErrMsg{}
)

// updateMsg carries one controller update into the model.
type updateMsg controller.Update

// closedMsg reports that the update channel was closed.
type closedMsg struct{}

// submitErrMsg reports that a tap or manual scan could not be handed to the controller.
type submitErrMsg struct {
	err error
}
