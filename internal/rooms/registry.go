/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package rooms is the single source of truth for which rooms exist and who
// is in them. All state lives in memory and is lost on restart.
//
// Locking: each Room has its own mutex, and the Registry has one for its
// indexes. A room's lock may be held while taking the registry's, never the
// reverse, so events on different rooms proceed in parallel.
package rooms

import (
	"crypto/rand"
	"sync"
)

const (
	roomIDLength  = 6
	roomIDLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Remainder describes a room after a player was removed from it.
type Remainder struct {
	Room Snapshot

	// Deleted is set when the room became empty and was removed; nobody is
	// left to notify.
	Deleted bool
}

type Registry struct {
	mu      sync.RWMutex
	rooms   map[RoomID]*Room
	members map[PlayerID]RoomID
	newID   func() RoomID
}

type Option func(*Registry)

// WithIDSource replaces the random room code generator.
func WithIDSource(fn func() RoomID) Option {
	return func(r *Registry) {
		r.newID = fn
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[RoomID]*Room),
		members: make(map[PlayerID]RoomID),
		newID:   randomRoomID,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// randomRoomID draws a short code from crypto/rand. Codes are not secret;
// uniqueness is guaranteed by CreateRoom, not by the generator.
func randomRoomID() RoomID {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, roomIDLength)
	for i := range out {
		out[i] = roomIDLetters[int(buf[i])%len(roomIDLetters)]
	}

	return RoomID(out)
}

// CreateRoom inserts an empty room in the waiting state and returns its id.
// Codes that collide with a live room are re-rolled.
func (r *Registry) CreateRoom() RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		id := r.newID()
		if _, exists := r.rooms[id]; exists || id == "" {
			continue
		}

		r.rooms[id] = newRoom(id, r)

		return id
	}
}

// GetRoom returns a copy of the room, or ErrRoomNotFound.
func (r *Registry) GetRoom(id RoomID) (Snapshot, error) {
	var s Snapshot

	err := r.Do(id, func(room *Room) error {
		s = room.Snapshot()

		return nil
	})

	return s, err
}

// Do runs fn with exclusive access to the room. Each call is one atomic
// state transition relative to every other call on the same room.
//
// Returns ErrRoomNotFound when the room does not exist (or was deleted while
// waiting for the lock), otherwise whatever fn returns.
func (r *Registry) Do(id RoomID, fn func(*Room) error) error {
	room := r.lookup(id)
	if room == nil {
		return ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return ErrRoomNotFound
	}

	return fn(room)
}

// AddPlayer adds p to the room and returns the updated room.
//
// Fails with ErrRoomNotFound, ErrRoomFull, or ErrAlreadyInRoom when p is
// already a member of any room.
func (r *Registry) AddPlayer(id RoomID, p Player) (Snapshot, error) {
	var s Snapshot

	err := r.Do(id, func(room *Room) error {
		if err := room.AddPlayer(p); err != nil {
			return err
		}

		s = room.Snapshot()

		return nil
	})

	return s, err
}

// RemovePlayer removes player from the room, deleting the room if it is left
// empty.
//
// Fails with ErrRoomNotFound or ErrNotInRoom.
func (r *Registry) RemovePlayer(id RoomID, player PlayerID) (Remainder, error) {
	var rem Remainder

	err := r.Do(id, func(room *Room) error {
		if !room.RemovePlayer(player) {
			return ErrNotInRoom
		}

		rem = Remainder{Room: room.Snapshot(), Deleted: room.Deleted()}

		return nil
	})

	return rem, err
}

// RemovePlayerFromAllRooms scans every room and removes player wherever it is
// found. notify, if non-nil, runs under the room's lock for each room that
// still has members afterwards, so notifications are ordered with respect
// to other events on that room.
func (r *Registry) RemovePlayerFromAllRooms(player PlayerID, notify func(*Room)) []Remainder {
	r.mu.RLock()
	candidates := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		candidates = append(candidates, room)
	}
	r.mu.RUnlock()

	var out []Remainder

	for _, room := range candidates {
		room.mu.Lock()

		if !room.closed && room.RemovePlayer(player) {
			rem := Remainder{Room: room.Snapshot(), Deleted: room.Deleted()}
			if !rem.Deleted && notify != nil {
				notify(room)
			}

			out = append(out, rem)
		}

		room.mu.Unlock()
	}

	return out
}

// Discard deletes the room if it has no players. It is used to roll back a
// room created for a join that then failed.
func (r *Registry) Discard(id RoomID) {
	_ = r.Do(id, func(room *Room) error {
		if len(room.Players) == 0 {
			r.forget(room)
		}

		return nil
	})
}

// RoomOf returns the room player currently belongs to.
func (r *Registry) RoomOf(player PlayerID) (RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.members[player]

	return id, ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

func (r *Registry) lookup(id RoomID) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[id]
}

// claim records player as a member of room. Called with the room's lock held.
func (r *Registry) claim(player PlayerID, room RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[player]; exists {
		return ErrAlreadyInRoom
	}

	r.members[player] = room

	return nil
}

// release drops player's membership. Called with the room's lock held.
func (r *Registry) release(player PlayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, player)
}

// forget removes room from the index. Called with the room's lock held.
func (r *Registry) forget(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[room.ID] == room {
		delete(r.rooms, room.ID)
	}

	room.closed = true
}
