package ensemble

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/input"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/storage"
	"pkg.world.dev/ensemble/transport"
)

var _ transport.Handler = socketHandler{}

// socketHandler turns socket events into engine calls.
type socketHandler struct {
	e *Engine
}

// Connect places the session in its game. The connect hooks and the initial snapshot run on the update
// loop, so a session joining a new game waits for the game's setup.
func (h socketHandler) Connect(s *transport.Session) error {
	g, err := h.e.join(context.Background(), s.Mode, s.GameID)
	if err != nil {
		return err
	}

	var snapshot state.Tree
	err = h.e.awaitLoop(func() error {
		if current, ok := h.e.list.Get(g.ID); !ok || current != g || !g.Loaded() {
			return eris.Wrapf(games.ErrUnknownGame, "game %q could not be set up", g.ID)
		}
		h.e.runClientHooks(TypeClientConnect, g, s.ID)
		var err error
		snapshot, err = h.e.store.Snapshot(g.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.GameID = g.ID
	s.Mode = g.Mode

	for _, msg := range []struct {
		event string
		data  any
	}{
		{transport.EventPlayerID, s.ID},
		{transport.EventStartTime, h.e.clock.AtStart()},
		{transport.EventInitialState, snapshot},
	} {
		if err := s.Send(msg.event, msg.data); err != nil {
			return err
		}
	}
	return s.Prime(snapshot)
}

// join finds the game a client asked for. Unknown ids are restored from a save when one exists and
// created otherwise.
func (e *Engine) join(ctx context.Context, mode, id string) (*games.Game, error) {
	e.joinMu.Lock()
	defer e.joinMu.Unlock()

	if id == "" {
		return e.newGame(mode, "")
	}
	if g, ok := e.list.Get(id); ok {
		if mode != "" && mode != g.Mode {
			return nil, eris.Wrapf(ErrModeMismatch, "game %q runs %q, not %q", id, g.Mode, mode)
		}
		return g, nil
	}
	if e.saves != nil {
		g, err := e.restore(ctx, id)
		if err == nil {
			if mode != "" && mode != g.Mode {
				e.logger.Warn().Str("game_id", id).Str("mode", g.Mode).Str("requested_mode", mode).
					Msg("restored save runs a different mode than requested")
			}
			return g, nil
		}
		if !errors.Is(err, storage.ErrSaveNotFound) {
			return nil, err
		}
	}
	return e.newGame(mode, id)
}

func (h socketHandler) Input(s *transport.Session, p input.Packet) {
	h.e.queue.PushInput(s.GameID, s.ID, p)
}

func (h socketHandler) Ack(s *transport.Session, a input.Ack) {
	h.e.queue.PushAck(s.GameID, s.ID, a)
}

func (h socketHandler) Pause(s *transport.Session) {
	if err := h.e.Pause(s.GameID); err != nil {
		h.e.reportLater(s.GameID, s.ID, err)
	}
}

func (h socketHandler) Unpause(s *transport.Session) {
	if err := h.e.Resume(s.GameID); err != nil {
		h.e.reportLater(s.GameID, s.ID, err)
	}
}

// Disconnect runs the OnClientDisconnect hooks and removes the game once its last client left. Both
// happen on the update loop.
func (h socketHandler) Disconnect(s *transport.Session) {
	gameID, playerID := s.GameID, s.ID
	h.e.loop.Do(func(bool) {
		g, ok := h.e.list.Get(gameID)
		if !ok {
			return
		}
		h.e.runClientHooks(TypeClientDisconnect, g, playerID)
		if len(h.e.hub.Sessions(gameID)) > 0 {
			return
		}
		if err := h.e.remove(context.Background(), g); err != nil {
			h.e.reportError(gameID, playerID, err)
		}
	})
}

func (h socketHandler) Error(s *transport.Session, err error) {
	h.e.reportLater(s.GameID, s.ID, err)
}

// publish sends every connected client the state of its game. It runs after each tick; clients whose
// game state did not change since their last update receive nothing.
func (e *Engine) publish(_ context.Context, _ uint64) {
	now := e.clock.Present()
	for _, g := range e.list.All() {
		sessions := e.hub.Sessions(g.ID)
		if len(sessions) == 0 {
			continue
		}
		snapshot, err := e.store.Snapshot(g.ID)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if _, err := s.SendUpdate(snapshot, e.queue.HighestProcessed(g.ID, s.ID), now); err != nil {
				e.logger.Debug().Err(err).Str("game_id", g.ID).Str("session_id", s.ID).Msg("failed to send update")
			}
		}
	}
}
