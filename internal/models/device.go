package models

import "strings"

// DeviceHandle identifies a Spotify Connect playback target.
type DeviceHandle struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	IsActive     bool   `json:"is_active"`
	IsRestricted bool   `json:"is_restricted"`
	Volume       *int   `json:"volume_percent"`
}

// Matches reports whether d is the device named by id or, failing that, by a case-insensitive name.
func (d DeviceHandle) Matches(id, name string) bool {
	if id != "" {
		return d.ID == id
	}
	return name != "" && strings.EqualFold(d.Name, name)
}

// Addressable reports whether commands can be sent to d.
func (d DeviceHandle) Addressable() bool {
	return d.ID != "" && !d.IsRestricted
}
