package device

import "context"

// Role is a Windows audio endpoint role.
type Role int

const (
	// RoleConsole is eConsole.
	RoleConsole Role = 0
	// RoleMultimedia is eMultimedia.
	RoleMultimedia Role = 1
	// RoleCommunications is eCommunications.
	RoleCommunications Role = 2
)

// AllRoles lists every endpoint role.
var AllRoles = []Role{RoleConsole, RoleMultimedia, RoleCommunications}

// Endpoint is an active audio endpoint known to the OS policy layer.
type Endpoint struct {
	ID        string
	Name      string
	Direction Direction
}

// PolicyConfig enumerates endpoints and changes the system default.
// On Windows it is backed by IMMDeviceEnumerator and IPolicyConfig.
type PolicyConfig interface {
	Endpoints(ctx context.Context, dir Direction) ([]Endpoint, error)
	SetDefaultEndpoint(id string, role Role) error
}
