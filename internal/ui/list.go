package ui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/skywisej/qr-music-card-maker/internal/controller"
)

const maxActivity = 50

var _ list.Item = activityItem{}

// activityItem wraps a [controller.Update] for the activity [list.Model].
type activityItem struct {
	update controller.Update
	at     time.Time
}

func (i activityItem) FilterValue() string { return i.update.Message }
func (i activityItem) Title() string       { return i.update.Message }
func (i activityItem) Description() string {
	desc := i.at.Format("15:04:05")
	if i.update.Kind == controller.UpdateError {
		desc += " • error"
	}
	return desc
}

func newActivityList() list.Model {
	delegate := list.NewDefaultDelegate()
	l := list.New(nil, delegate, 60, 12)
	l.Title = "Activity"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	return l
}

// pushActivity prepends u, keeping the newest [maxActivity] entries.
func pushActivity(l *list.Model, u controller.Update, at time.Time) {
	items := append([]list.Item{activityItem{update: u, at: at}}, l.Items()...)
	if len(items) > maxActivity {
		items = items[:maxActivity]
	}
	l.SetItems(items)
}
