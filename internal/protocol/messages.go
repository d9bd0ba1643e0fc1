/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package protocol

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/Seednode/oddson/internal/rooms"
)

// Inbound events (client -> server).
const (
	EventJoinGame          = "join-game"
	EventLeaveGame         = "leave-game"
	EventCreateProposal    = "create-proposal"
	EventRespondToProposal = "respond-to-proposal"
	EventSetGameSettings   = "set-game-settings"
	EventMakeChoice        = "make-choice"
	EventResetGame         = "reset-game"
)

// Outbound events (server -> client).
const (
	EventGameJoined          = "game-joined"
	EventGameLeft            = "game-left"
	EventPlayerJoined        = "player-joined"
	EventPlayerLeft          = "player-left"
	EventProposalCreated     = "proposal-created"
	EventProposalAccepted    = "proposal-accepted"
	EventProposalRejected    = "proposal-rejected"
	EventProposalCountered   = "proposal-countered"
	EventGameSettingsUpdated = "game-settings-updated"
	EventChoiceMade          = "choice-made"
	EventGameResults         = "game-results"
	EventGameReset           = "game-reset"
	EventError               = "error"
)

// Envelope is a decoded inbound frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame. Data is omitted for events without payload.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionCounter Action = "counter"
)

type JoinGame struct {
	PlayerName string       `json:"playerName"`
	RoomID     rooms.RoomID `json:"roomId,omitempty"`
}

type LeaveGame struct {
	RoomID rooms.RoomID `json:"roomId"`
}

// Terms is a dare and range pair, as proposed or agreed.
type Terms struct {
	Dare     string `json:"dare"`
	MaxRange int    `json:"maxRange"`
}

type CreateProposal struct {
	RoomID rooms.RoomID `json:"roomId"`
	Terms
}

type RespondToProposal struct {
	RoomID          rooms.RoomID `json:"roomId"`
	ProposalID      string       `json:"proposalId,omitempty"`
	Action          Action       `json:"action"`
	CounterProposal *Terms       `json:"counterProposal,omitempty"`
}

type SetGameSettings struct {
	RoomID rooms.RoomID `json:"roomId"`
	Terms
}

type MakeChoice struct {
	RoomID rooms.RoomID `json:"roomId"`
	Choice *int         `json:"choice"`
}

type ResetGame struct {
	RoomID rooms.RoomID `json:"roomId"`
}

// UnmarshalJSON also accepts a bare room id string, which older clients send.
func (r *ResetGame) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &r.RoomID)
	}

	type plain ResetGame

	return json.Unmarshal(data, (*plain)(r))
}

type ProposalView struct {
	ID         string               `json:"id"`
	ProposerID rooms.PlayerID       `json:"proposerId"`
	Dare       string               `json:"dare"`
	MaxRange   int                  `json:"maxRange"`
	Status     rooms.ProposalStatus `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
}

// RoomView is the room as shown to clients. Choice values are withheld until
// results are revealed; only who has chosen is visible.
type RoomView struct {
	ID                rooms.RoomID     `json:"id"`
	Players           []rooms.Player   `json:"players"`
	GameState         rooms.GameState  `json:"gameState"`
	Dare              string           `json:"dare"`
	MaxRange          int              `json:"maxRange"`
	ChoicesMade       []rooms.PlayerID `json:"choicesMade"`
	CurrentProposal   *ProposalView    `json:"currentProposal"`
	ProposalHistory   []ProposalView   `json:"proposalHistory"`
	CurrentNegotiator *rooms.PlayerID  `json:"currentNegotiator"`
}

type GameJoined struct {
	Success bool         `json:"success"`
	RoomID  rooms.RoomID `json:"roomId"`
	Player  rooms.Player `json:"player"`
	Room    RoomView     `json:"room"`
}

type GameLeft struct {
	RoomID rooms.RoomID `json:"roomId"`
}

type PlayerJoined struct {
	Player rooms.Player `json:"player"`
	Room   RoomView     `json:"room"`
}

type PlayerLeft struct {
	PlayerID         rooms.PlayerID `json:"playerId"`
	RemainingPlayers []rooms.Player `json:"remainingPlayers"`
}

type ProposalCreated struct {
	Proposal          ProposalView    `json:"proposal"`
	ProposerName      string          `json:"proposerName"`
	CurrentNegotiator *rooms.PlayerID `json:"currentNegotiator"`
}

type ProposalAccepted struct {
	Proposal      ProposalView `json:"proposal"`
	ResponderName string       `json:"responderName"`
	FinalSettings Terms        `json:"finalSettings"`
}

type ProposalRejected struct {
	Proposal      ProposalView `json:"proposal"`
	ResponderName string       `json:"responderName"`
}

type ProposalCountered struct {
	OriginalProposal  ProposalView    `json:"originalProposal"`
	CounterProposal   ProposalView    `json:"counterProposal"`
	ResponderName     string          `json:"responderName"`
	CurrentNegotiator *rooms.PlayerID `json:"currentNegotiator"`
}

type GameSettingsUpdated struct {
	Terms
}

type ChoiceMade struct {
	PlayerID     rooms.PlayerID `json:"playerId"`
	ChoicesMade  int            `json:"choicesMade"`
	TotalPlayers int            `json:"totalPlayers"`
}

type GameResults struct {
	IsMatch bool                   `json:"isMatch"`
	Choices map[rooms.PlayerID]int `json:"choices"`
	Dare    string                 `json:"dare"`
	Players []rooms.Player         `json:"players"`
}

type ErrorMessage struct {
	Kind    rooms.Kind `json:"kind"`
	Message string     `json:"message"`
}

func newProposalView(p *rooms.Proposal) ProposalView {
	return ProposalView{
		ID:         p.ID,
		ProposerID: p.ProposerID,
		Dare:       p.Dare,
		MaxRange:   p.MaxRange,
		Status:     p.Status,
		Timestamp:  p.CreatedAt,
	}
}

func newRoomView(r *rooms.Room) RoomView {
	v := RoomView{
		ID:                r.ID,
		Players:           slices.Clone(r.Players),
		GameState:         r.State,
		Dare:              r.Dare,
		MaxRange:          r.MaxRange,
		ChoicesMade:       make([]rooms.PlayerID, 0, len(r.Choices)),
		ProposalHistory:   make([]ProposalView, 0, len(r.History)),
		CurrentNegotiator: negotiator(r),
	}

	for _, p := range r.Players {
		if _, ok := r.Choices[p.ID]; ok {
			v.ChoicesMade = append(v.ChoicesMade, p.ID)
		}
	}

	for _, p := range r.History {
		v.ProposalHistory = append(v.ProposalHistory, newProposalView(p))
	}

	if r.CurrentProposal != nil {
		current := newProposalView(r.CurrentProposal)
		v.CurrentProposal = &current
	}

	return v
}

func newGameResults(r *rooms.Room, isMatch bool) GameResults {
	return GameResults{
		IsMatch: isMatch,
		Choices: maps.Clone(r.Choices),
		Dare:    r.Dare,
		Players: slices.Clone(r.Players),
	}
}

// negotiator returns nil when nobody is due to respond, which clients
// receive as JSON null.
func negotiator(r *rooms.Room) *rooms.PlayerID {
	if r.Negotiator == "" {
		return nil
	}

	id := r.Negotiator

	return &id
}
