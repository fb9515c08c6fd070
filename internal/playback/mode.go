package playback

// Mode is either Solo or Jamming.
type Mode interface{ isMode() }

// Solo is local playback. Every intent applies optimistically.
type Solo struct{}

type Role int

const (
	RoleListener Role = iota
	RoleController
)

func (r Role) String() string {
	if r == RoleController {
		return "controller"
	}
	return "listener"
}

// Jamming mirrors an authoritative session. Playback state is only ever
// overwritten by broadcasts.
type Jamming struct {
	SessionID string
	JoinCode  string
	Role      Role
	Creator   bool
}

func (Solo) isMode()    {}
func (Jamming) isMode() {}

// IsJamming reports whether m is a Jamming mode and returns it.
func IsJamming(m Mode) (Jamming, bool) {
	j, ok := m.(Jamming)
	return j, ok
}
