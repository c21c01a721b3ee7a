// Package domain contains entities without logic, just meta-data
package domain

// Role is what a signaling session is currently doing in the broadcast.
type Role int

const (
	RoleNone Role = iota
	RolePresenter
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RolePresenter:
		return "presenter"
	case RoleViewer:
		return "viewer"
	default:
		return "none"
	}
}
