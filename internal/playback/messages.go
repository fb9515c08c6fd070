package playback

import (
	"github.com/DoyleJ11/jamsync/internal/client"
	"github.com/DoyleJ11/jamsync/internal/player"
)

type msg interface{ isStoreMsg() }

// user intents
type loadSong struct {
	songID string
	songs  []string
}
type play struct{}
type pause struct{}
type seek struct{ position float64 }
type nextSong struct{}
type previousSong struct{}
type addToQueue struct{ songID string }
type jumpTo struct{ index int }
type reorder struct{ from, to int }
type toggleShuffle struct{}
type cycleRepeat struct{}
type setVolume struct{ volume float64 }
type toggleMute struct{}
type startJam struct{}
type joinJam struct{ joinCode string }
type leaveJam struct{}
type endJam struct{}
type giveControl struct{ target string }
type revokeControl struct{ target string }

type getState struct{ reply chan State }

// async completions
type resolved struct {
	songID string
	src    player.Source
	err    error
}

type dialed struct {
	conn Conn
	err  error
	then func(Conn) error
}

type fromSession struct {
	conn Conn
	m    client.Message
}

type sessionClosed struct{ conn Conn }

func (loadSong) isStoreMsg()      {}
func (play) isStoreMsg()          {}
func (pause) isStoreMsg()         {}
func (seek) isStoreMsg()          {}
func (nextSong) isStoreMsg()      {}
func (previousSong) isStoreMsg()  {}
func (addToQueue) isStoreMsg()    {}
func (jumpTo) isStoreMsg()        {}
func (reorder) isStoreMsg()       {}
func (toggleShuffle) isStoreMsg() {}
func (cycleRepeat) isStoreMsg()   {}
func (setVolume) isStoreMsg()     {}
func (toggleMute) isStoreMsg()    {}
func (startJam) isStoreMsg()      {}
func (joinJam) isStoreMsg()       {}
func (leaveJam) isStoreMsg()      {}
func (endJam) isStoreMsg()        {}
func (giveControl) isStoreMsg()   {}
func (revokeControl) isStoreMsg() {}
func (getState) isStoreMsg()      {}
func (resolved) isStoreMsg()      {}
func (dialed) isStoreMsg()        {}
func (fromSession) isStoreMsg()   {}
func (sessionClosed) isStoreMsg() {}
