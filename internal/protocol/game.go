/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package protocol

import (
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Seednode/oddson/internal/rooms"
)

const (
	maxNameLength = 32
	maxDareLength = 280
)

func (h *Handler) join(c Conn, req JoinGame) error {
	name := strings.TrimSpace(req.PlayerName)
	if name == "" {
		return rooms.Invalid("Please enter your name")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return rooms.Invalid("Names may be at most %d characters", maxNameLength)
	}

	// Checked up front so that a rejected join never leaves a freshly
	// created, empty room behind.
	if _, ok := h.registry.RoomOf(c.ID()); ok {
		return rooms.ErrAlreadyInRoom
	}

	id := rooms.RoomID(strings.TrimSpace(string(req.RoomID)))

	created := false
	if id == "" {
		id = h.registry.CreateRoom()
		created = true

		h.logger.Info("room created", zap.String("room", string(id)))
	}

	player := rooms.Player{ID: c.ID(), Name: name}

	err := h.registry.Do(id, func(room *rooms.Room) error {
		if err := room.AddPlayer(player); err != nil {
			return err
		}

		// A proposal made while alone is answered by whoever joins next.
		if room.CurrentProposal != nil && room.Negotiator == "" && room.CurrentProposal.ProposerID != player.ID {
			room.Negotiator = player.ID
		}

		view := newRoomView(room)

		c.Send(Message{
			Event: EventGameJoined,
			Data:  GameJoined{Success: true, RoomID: room.ID, Player: player, Room: view},
		})

		h.broadcastExcept(room, player.ID, Message{
			Event: EventPlayerJoined,
			Data:  PlayerJoined{Player: player, Room: view},
		})

		h.logger.Info("player joined",
			zap.String("room", string(room.ID)),
			zap.String("player", string(player.ID)),
			zap.String("name", player.Name),
			zap.Int("players", len(room.Players)),
		)

		return nil
	})
	if err != nil && created {
		h.registry.Discard(id)
	}

	return err
}

func (h *Handler) leave(c Conn, req LeaveGame) error {
	return h.registry.Do(req.RoomID, func(room *rooms.Room) error {
		if !room.RemovePlayer(c.ID()) {
			return rooms.ErrNotInRoom
		}

		c.Send(Message{Event: EventGameLeft, Data: GameLeft{RoomID: room.ID}})

		if !room.Deleted() {
			h.broadcast(room, Message{
				Event: EventPlayerLeft,
				Data:  PlayerLeft{PlayerID: c.ID(), RemainingPlayers: slices.Clone(room.Players)},
			})
		}

		h.logger.Info("player left",
			zap.String("room", string(room.ID)),
			zap.String("player", string(c.ID())),
			zap.Bool("room_deleted", room.Deleted()),
		)

		return nil
	})
}

func (h *Handler) createProposal(c Conn, req CreateProposal) error {
	return h.registry.Do(req.RoomID, func(room *rooms.Room) error {
		proposer, ok := room.Player(c.ID())
		if !ok {
			return rooms.ErrNotInRoom
		}

		terms, err := validTerms(req.Terms)
		if err != nil {
			return err
		}

		if room.CurrentProposal != nil {
			return rooms.Invalid("A proposal is already awaiting a response")
		}

		proposal := h.newProposal(proposer.ID, terms)

		room.History = append(room.History, proposal)
		room.CurrentProposal = proposal
		room.State = rooms.StateNegotiating
		room.Negotiator = ""
		if other, ok := room.Opponent(proposer.ID); ok {
			room.Negotiator = other.ID
		}

		h.broadcast(room, Message{
			Event: EventProposalCreated,
			Data: ProposalCreated{
				Proposal:          newProposalView(proposal),
				ProposerName:      proposer.Name,
				CurrentNegotiator: negotiator(room),
			},
		})

		h.logger.Info("proposal created",
			zap.String("room", string(room.ID)),
			zap.String("proposal", proposal.ID),
			zap.String("proposer", string(proposer.ID)),
			zap.Int("max_range", proposal.MaxRange),
		)

		return nil
	})
}

func (h *Handler) respondToProposal(c Conn, req RespondToProposal) error {
	err := h.registry.Do(req.RoomID, func(room *rooms.Room) error {
		live := room.CurrentProposal
		if live == nil {
			return rooms.ErrRoomOrProposalNotFound
		}

		responder, ok := room.Player(c.ID())
		if !ok {
			return rooms.ErrNotInRoom
		}

		if room.Negotiator == "" || room.Negotiator != responder.ID {
			return rooms.ErrNotYourTurn
		}

		if req.ProposalID != "" && req.ProposalID != live.ID {
			return rooms.ErrStaleProposal
		}

		switch req.Action {
		case ActionAccept:
			h.accept(room, live, responder)
		case ActionReject:
			h.reject(room, live, responder)
		case ActionCounter:
			if req.CounterProposal == nil {
				return rooms.Invalid("A counter needs a dare and a range")
			}

			terms, err := validTerms(*req.CounterProposal)
			if err != nil {
				return err
			}

			h.counter(room, live, responder, terms)
		default:
			return rooms.Invalid("Unknown action %q", req.Action)
		}

		return nil
	})
	if errors.Is(err, rooms.ErrRoomNotFound) {
		return rooms.ErrRoomOrProposalNotFound
	}

	return err
}

func (h *Handler) accept(room *rooms.Room, live *rooms.Proposal, responder rooms.Player) {
	live.Status = rooms.ProposalAccepted
	room.Dare = live.Dare
	room.MaxRange = live.MaxRange
	room.State = rooms.StatePlaying
	room.CurrentProposal = nil
	room.Negotiator = ""

	h.broadcast(room, Message{
		Event: EventProposalAccepted,
		Data: ProposalAccepted{
			Proposal:      newProposalView(live),
			ResponderName: responder.Name,
			FinalSettings: Terms{Dare: room.Dare, MaxRange: room.MaxRange},
		},
	})

	h.logger.Info("proposal accepted",
		zap.String("room", string(room.ID)),
		zap.String("proposal", live.ID),
	)
}

func (h *Handler) reject(room *rooms.Room, live *rooms.Proposal, responder rooms.Player) {
	live.Status = rooms.ProposalRejected
	room.CurrentProposal = nil
	room.State = rooms.StateWaiting
	room.Negotiator = ""

	h.broadcast(room, Message{
		Event: EventProposalRejected,
		Data: ProposalRejected{
			Proposal:      newProposalView(live),
			ResponderName: responder.Name,
		},
	})

	h.logger.Info("proposal rejected",
		zap.String("room", string(room.ID)),
		zap.String("proposal", live.ID),
	)
}

func (h *Handler) counter(room *rooms.Room, live *rooms.Proposal, responder rooms.Player, terms Terms) {
	live.Status = rooms.ProposalCountered

	next := h.newProposal(responder.ID, terms)
	room.History = append(room.History, next)
	room.CurrentProposal = next

	// The turn goes back to whoever made the countered proposal, provided
	// they are still here to take it.
	room.Negotiator = ""
	if room.HasPlayer(live.ProposerID) {
		room.Negotiator = live.ProposerID
	}

	h.broadcast(room, Message{
		Event: EventProposalCountered,
		Data: ProposalCountered{
			OriginalProposal:  newProposalView(live),
			CounterProposal:   newProposalView(next),
			ResponderName:     responder.Name,
			CurrentNegotiator: negotiator(room),
		},
	})

	h.logger.Info("proposal countered",
		zap.String("room", string(room.ID)),
		zap.String("proposal", live.ID),
		zap.String("counter", next.ID),
	)
}

// setGameSettings overwrites the agreed terms directly, bypassing
// negotiation. Anyone who knows the room id may call it.
func (h *Handler) setGameSettings(_ Conn, req SetGameSettings) error {
	return h.registry.Do(req.RoomID, func(room *rooms.Room) error {
		if req.MaxRange < 1 {
			return rooms.Invalid("The range must be at least 1")
		}

		room.Dare = req.Dare
		room.MaxRange = req.MaxRange

		h.broadcast(room, Message{
			Event: EventGameSettingsUpdated,
			Data:  GameSettingsUpdated{Terms: Terms{Dare: room.Dare, MaxRange: room.MaxRange}},
		})

		return nil
	})
}

func (h *Handler) makeChoice(c Conn, req MakeChoice) error {
	return h.registry.Do(req.RoomID, func(room *rooms.Room) error {
		if !room.HasPlayer(c.ID()) {
			return rooms.ErrNotInRoom
		}

		if req.Choice == nil {
			return rooms.Invalid("Please choose a number")
		}

		choice := *req.Choice
		if choice < 0 || choice > room.MaxRange {
			return rooms.Invalid("Please choose a number between 0 and %d", room.MaxRange)
		}

		room.Choices[c.ID()] = choice

		if len(room.Players) == rooms.MaxPlayers && allChosen(room) {
			first, second := room.Choices[room.Players[0].ID], room.Choices[room.Players[1].ID]
			isMatch := first == second

			room.State = rooms.StateFinished

			h.broadcast(room, Message{
				Event: EventGameResults,
				Data:  newGameResults(room, isMatch),
			})

			h.logger.Info("game finished",
				zap.String("room", string(room.ID)),
				zap.Bool("match", isMatch),
			)

			return nil
		}

		h.broadcastExcept(room, c.ID(), Message{
			Event: EventChoiceMade,
			Data: ChoiceMade{
				PlayerID:     c.ID(),
				ChoicesMade:  len(room.Choices),
				TotalPlayers: len(room.Players),
			},
		})

		return nil
	})
}

func (h *Handler) resetGame(_ Conn, req ResetGame) error {
	return h.registry.Do(req.RoomID, func(room *rooms.Room) error {
		clear(room.Choices)
		room.CurrentProposal = nil
		room.Negotiator = ""
		room.State = rooms.StateWaiting

		h.broadcast(room, Message{Event: EventGameReset})

		h.logger.Info("game reset",
			zap.String("room", string(room.ID)),
			zap.Int("history", len(room.History)),
		)

		return nil
	})
}

func allChosen(room *rooms.Room) bool {
	for _, p := range room.Players {
		if _, ok := room.Choices[p.ID]; !ok {
			return false
		}
	}

	return true
}

func validTerms(t Terms) (Terms, error) {
	t.Dare = strings.TrimSpace(t.Dare)

	switch {
	case t.Dare == "":
		return t, rooms.Invalid("Please enter a dare")
	case utf8.RuneCountInString(t.Dare) > maxDareLength:
		return t, rooms.Invalid("Dares may be at most %d characters", maxDareLength)
	case t.MaxRange < 1:
		return t, rooms.Invalid("The range must be at least 1")
	}

	return t, nil
}
