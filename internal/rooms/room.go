/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package rooms

import (
	"maps"
	"slices"
	"sync"
	"time"
)

const (
	// MaxPlayers is the number of players a room can hold.
	MaxPlayers = 2

	// DefaultMaxRange is the agreed range of a freshly created room.
	DefaultMaxRange = 10
)

type (
	PlayerID string
	RoomID   string
)

// Player is a connected participant. ID is scoped to a single connection.
type Player struct {
	ID   PlayerID `json:"id"`
	Name string   `json:"name"`
}

// GameState is a room's position in the game state machine:
// waiting -> negotiating -> playing -> finished -> waiting.
// StateRevealing is part of the client vocabulary but is never entered.
type GameState string

const (
	StateWaiting     GameState = "waiting"
	StateNegotiating GameState = "negotiating"
	StatePlaying     GameState = "playing"
	StateRevealing   GameState = "revealing"
	StateFinished    GameState = "finished"
)

type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCountered ProposalStatus = "countered"
)

// Proposal is a candidate dare and range. Only Status changes after creation.
type Proposal struct {
	ID         string
	ProposerID PlayerID
	Dare       string
	MaxRange   int
	Status     ProposalStatus
	CreatedAt  time.Time
}

// Room is the shared state of one game. Its fields may only be read or
// written inside Registry.Do (or a hook the registry runs under the room's
// lock), and Players may only change through AddPlayer and RemovePlayer.
type Room struct {
	ID       RoomID
	Players  []Player
	State    GameState
	Dare     string
	MaxRange int
	Choices  map[PlayerID]int

	// CurrentProposal, when set, is always the last element of History.
	CurrentProposal *Proposal
	History         []*Proposal

	// Negotiator is the player who must answer CurrentProposal, or empty.
	Negotiator PlayerID

	mu       sync.Mutex
	registry *Registry
	closed   bool
}

func newRoom(id RoomID, registry *Registry) *Room {
	return &Room{
		ID:       id,
		State:    StateWaiting,
		MaxRange: DefaultMaxRange,
		Choices:  make(map[PlayerID]int),
		registry: registry,
	}
}

// Player returns the member with the given id.
func (r *Room) Player(id PlayerID) (Player, bool) {
	for _, p := range r.Players {
		if p.ID == id {
			return p, true
		}
	}

	return Player{}, false
}

// HasPlayer reports whether id is a member of the room.
func (r *Room) HasPlayer(id PlayerID) bool {
	_, ok := r.Player(id)

	return ok
}

// Opponent returns the member that is not id, if there is one.
func (r *Room) Opponent(id PlayerID) (Player, bool) {
	for _, p := range r.Players {
		if p.ID != id {
			return p, true
		}
	}

	return Player{}, false
}

// AddPlayer appends p in join order.
//
// Fails with ErrRoomFull when the room already holds MaxPlayers, and with
// ErrAlreadyInRoom when p is a member of any room, this one included.
func (r *Room) AddPlayer(p Player) error {
	if len(r.Players) >= MaxPlayers {
		return ErrRoomFull
	}

	if err := r.registry.claim(p.ID, r.ID); err != nil {
		return err
	}

	r.Players = append(r.Players, p)

	return nil
}

// RemovePlayer removes id along with its recorded choice, clears it as
// negotiator, and deletes the room from the registry once nobody is left.
// It reports whether id was a member.
func (r *Room) RemovePlayer(id PlayerID) bool {
	i := slices.IndexFunc(r.Players, func(p Player) bool { return p.ID == id })
	if i < 0 {
		return false
	}

	r.Players = slices.Delete(r.Players, i, i+1)
	delete(r.Choices, id)

	if r.Negotiator == id {
		r.Negotiator = ""
	}

	r.registry.release(id)

	if len(r.Players) == 0 {
		r.registry.forget(r)
	}

	return true
}

// Deleted reports whether the room has been removed from its registry.
func (r *Room) Deleted() bool {
	return r.closed
}

// Snapshot is a detached deep copy of a room, safe to use after the room's
// lock has been released.
type Snapshot struct {
	ID              RoomID
	Players         []Player
	State           GameState
	Dare            string
	MaxRange        int
	Choices         map[PlayerID]int
	CurrentProposal *Proposal
	History         []Proposal
	Negotiator      PlayerID
}

// Snapshot copies the room's current state.
func (r *Room) Snapshot() Snapshot {
	s := Snapshot{
		ID:         r.ID,
		Players:    slices.Clone(r.Players),
		State:      r.State,
		Dare:       r.Dare,
		MaxRange:   r.MaxRange,
		Choices:    maps.Clone(r.Choices),
		History:    make([]Proposal, 0, len(r.History)),
		Negotiator: r.Negotiator,
	}

	for _, p := range r.History {
		s.History = append(s.History, *p)
	}

	if r.CurrentProposal != nil {
		current := *r.CurrentProposal
		s.CurrentProposal = &current
	}

	return s
}
