package input

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"pkg.world.dev/ensemble/games"
	"pkg.world.dev/ensemble/hook"
	"pkg.world.dev/ensemble/physics"
	"pkg.world.dev/ensemble/plugin"
	"pkg.world.dev/ensemble/state"
	"pkg.world.dev/ensemble/validate"
)

// Processor drains a game's queue and runs the matching callbacks. A failing callback is logged and
// skipped; the rest of the input is still processed.
type Processor struct {
	queue    *Queue
	registry *plugin.Registry
	mutator  *state.Mutator
	logger   zerolog.Logger

	mu    sync.Mutex
	held  map[string]map[string][]string
	fired map[string]map[string]struct{}
}

func NewProcessor(queue *Queue, registry *plugin.Registry, mutator *state.Mutator, logger zerolog.Logger) *Processor {
	return &Processor{
		queue:    queue,
		registry: registry,
		mutator:  mutator,
		logger:   logger,
		held:     make(map[string]map[string][]string),
		fired:    make(map[string]map[string]struct{}),
	}
}

// Forget drops the per-game bookkeeping of a removed game.
func (p *Processor) Forget(game string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, game)
	delete(p.fired, game)
	p.queue.Forget(game)
}

// Frame is the processor's BeforePhysicsFrame contribution.
func (p *Processor) Frame(f physics.Frame) (state.Patch, error) {
	b := p.queue.drain(f.Game.ID)
	if len(b.inputs) == 0 && len(b.acks) == 0 {
		return nil, nil
	}

	actions, err := p.actionMaps(f.Game.Mode)
	if err != nil {
		return nil, err
	}
	acks, err := p.ackMaps(f.Game.Mode)
	if err != nil {
		return nil, err
	}

	waiting := f.Game.Stage() == games.WaitingForPlayers
	for _, in := range b.inputs {
		p.handleInput(f, in, actions, waiting)
		p.queue.processed(f.Game.ID, in.player, in.packet.ID)
	}
	for _, a := range b.acks {
		p.handleAck(f, a, acks)
		p.queue.processed(f.Game.ID, a.player, a.ack.ID)
	}
	return nil, nil
}

func (p *Processor) actionMaps(mode string) ([]hook.Contribution[validate.ActionMap], error) {
	maps, err := validate.Current[validate.ActionMap](p.registry, validate.TypeActionMapValidator)
	if err != nil {
		return nil, err
	}
	list := make([]hook.Contribution[validate.ActionMap], 0, len(maps))
	for _, m := range maps {
		list = append(list, hook.Contribution[validate.ActionMap]{Namespace: m.Namespace, Modes: m.Modes, Handler: m})
	}
	return hook.ForMode(list, mode), nil
}

func (p *Processor) ackMaps(mode string) ([]hook.Contribution[validate.AckMap], error) {
	maps, err := validate.Current[validate.AckMap](p.registry, validate.TypeAckMapValidator)
	if err != nil {
		return nil, err
	}
	list := make([]hook.Contribution[validate.AckMap], 0, len(maps))
	for _, m := range maps {
		list = append(list, hook.Contribution[validate.AckMap]{Namespace: m.Namespace, Modes: m.Modes, Handler: m})
	}
	return hook.ForMode(list, mode), nil
}

func (p *Processor) swapHeld(game, player string, keys []string) (previous []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	players, ok := p.held[game]
	if !ok {
		players = make(map[string][]string)
		p.held[game] = players
	}
	previous = players[player]
	players[player] = append([]string(nil), keys...)
	return previous
}

func (p *Processor) handleInput(
	f physics.Frame,
	in inputEntry,
	maps []hook.Contribution[validate.ActionMap],
	waiting bool,
) {
	keys := in.packet.Keys
	fire := make([]string, 0, len(keys)+1)
	if len(keys) == 0 {
		fire = append(fire, validate.KeyNothing)
	}
	fire = append(fire, keys...)
	if in.packet.Cursor != nil {
		fire = append(fire, validate.KeyCursor)
	}

	previous := p.swapHeld(f.Game.ID, in.player, keys)
	released := make([]string, 0, len(previous))
	for _, key := range previous {
		if !slices.Contains(keys, key) {
			released = append(released, key)
		}
	}

	for _, m := range maps {
		for _, key := range fire {
			for _, action := range m.Handler.Actions[key] {
				if waiting && !action.WhenWaiting {
					continue
				}
				p.call(f, m.Namespace, in.player, key, inputData(in.packet, key), action.Call)
			}
		}
		for _, key := range released {
			for _, action := range m.Handler.Actions[key] {
				if action.OnRelease == nil || (waiting && !action.WhenWaiting) {
					continue
				}
				p.call(f, m.Namespace, in.player, key, inputData(in.packet, key), action.OnRelease)
			}
		}
	}
}

func (p *Processor) handleAck(f physics.Frame, a ackEntry, maps []hook.Contribution[validate.AckMap]) {
	for mi, m := range maps {
		for ai, ack := range m.Handler.Acks[a.ack.Name] {
			id := fmt.Sprintf("%s/%s/%d/%d", m.Namespace, a.ack.Name, mi, ai)
			switch ack.Type {
			case validate.AckOnceEach:
				if !p.markFired(f.Game.ID, id+"/"+a.player) {
					continue
				}
			case validate.AckOnceForAll:
				if !p.markFired(f.Game.ID, id) {
					continue
				}
			}
			p.call(f, m.Namespace, a.player, a.ack.Name, a.ack.Data, ack.OnComplete)
		}
	}
}

// markFired records id and reports whether it was new.
func (p *Processor) markFired(game, id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.fired[game]
	if !ok {
		set = make(map[string]struct{})
		p.fired[game] = set
	}
	if _, seen := set[id]; seen {
		return false
	}
	set[id] = struct{}{}
	return true
}

func (p *Processor) call(f physics.Frame, namespace, player, key string, data map[string]any, fn validate.Callback) {
	logger := p.logger.With().
		Str("game_id", f.Game.ID).
		Str("namespace", namespace).
		Str("player_id", player).
		Str("key", key).
		Logger()

	patch, err := safeCall(fn, validate.Context{
		Game:     f.Game,
		State:    f.State,
		PlayerID: player,
		Data:     data,
		Now:      f.Now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("input callback failed")
		return
	}
	if err := p.mutator.Mutate(namespace, f.Game.ID, patch); err != nil {
		logger.Error().Err(err).Msg("failed to apply input callback result")
	}
}

func safeCall(fn validate.Callback, c validate.Context) (patch state.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("callback panicked: %v", r)
		}
	}()
	return fn(c)
}

func inputData(p Packet, key string) map[string]any {
	data := make(map[string]any, len(p.Data)+3)
	for k, v := range p.Data {
		data[k] = v
	}
	data["key"] = key
	data["timestamp"] = p.Timestamp
	if p.Cursor != nil {
		data["cursor"] = *p.Cursor
	}
	return data
}
