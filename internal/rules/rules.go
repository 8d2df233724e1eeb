// Package rules embeds the sandboxed Lua scoring hook. The server invokes
// named entry points on lifecycle events; a script failure is logged and
// treated as a no-op for that single event, never surfaced to the caller.
package rules

import (
	"fmt"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"

	"hillpursuit/server/internal/logging"
)

// Host is the capability surface exposed to the rules script.
type Host interface {
	// GetPoints reads a session's score; unknown ids read as zero.
	GetPoints(clientID int) int
	// AddPoints adjusts a session's score by delta.
	AddPoints(clientID int, delta int)
	// SendPoints broadcasts the current score table to playing sessions.
	SendPoints()
	// RoundTime is the current round's virtual elapsed time.
	RoundTime() time.Duration
	// RemainingEntities counts still-unclaimed to-take items.
	RemainingEntities() int
}

// DefaultScript is the built-in scoring behaviour used when no script path
// is configured: one point per taken entity, ten for a win.
const DefaultScript = `
function onPlayerTakesEntity(id, entity)
  addPoints(id, 1)
end

function onPlayerWins(id)
  addPoints(id, 10)
  sendPoints()
end

function onRoundEnds()
  sendPoints()
end
`

// Hook owns one Lua state bound to a Host. It is used only from the server
// loop goroutine.
type Hook struct {
	host   Host
	logger *logging.Logger
	path   string
	state  *lua.LState
}

// New loads the script at path, or the built-in default when path is empty.
func New(host Host, logger *logging.Logger, path string) (*Hook, error) {
	h := &Hook{host: host, logger: logger, path: path}
	state, err := h.newState()
	if err != nil {
		return nil, err
	}
	h.state = state
	h.call("onInit")
	return h, nil
}

// Reload replaces the Lua state from the configured script. On failure the
// previous state stays active.
func (h *Hook) Reload() error {
	if h == nil {
		return fmt.Errorf("rules hook not initialized")
	}
	state, err := h.newState()
	if err != nil {
		return err
	}
	if h.state != nil {
		h.state.Close()
	}
	h.state = state
	h.call("onInit")
	return nil
}

// Close releases the Lua state.
func (h *Hook) Close() {
	if h == nil || h.state == nil {
		return
	}
	h.state.Close()
	h.state = nil
}

// newState builds a sandboxed state: base, table, string and math libraries
// only, plus the host API, then runs the script body.
func (h *Hook) newState() (*lua.LState, error) {
	state := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := state.CallByParam(lua.P{
			Fn:        state.NewFunction(lib.open),
			NRet:      0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			state.Close()
			return nil, fmt.Errorf("open lua lib %s: %w", lib.name, err)
		}
	}

	h.registerHostAPI(state)

	script := DefaultScript
	if h.path != "" {
		raw, err := os.ReadFile(h.path)
		if err != nil {
			state.Close()
			return nil, fmt.Errorf("read rules script: %w", err)
		}
		script = string(raw)
	}
	if err := state.DoString(script); err != nil {
		state.Close()
		return nil, fmt.Errorf("load rules script: %w", err)
	}
	return state, nil
}

func (h *Hook) registerHostAPI(state *lua.LState) {
	state.SetGlobal("getPoints", state.NewFunction(func(l *lua.LState) int {
		l.Push(lua.LNumber(h.host.GetPoints(l.CheckInt(1))))
		return 1
	}))
	state.SetGlobal("addPoints", state.NewFunction(func(l *lua.LState) int {
		h.host.AddPoints(l.CheckInt(1), l.CheckInt(2))
		return 0
	}))
	state.SetGlobal("sendPoints", state.NewFunction(func(l *lua.LState) int {
		h.host.SendPoints()
		return 0
	}))
	state.SetGlobal("getTime", state.NewFunction(func(l *lua.LState) int {
		l.Push(lua.LNumber(h.host.RoundTime().Seconds()))
		return 1
	}))
	state.SetGlobal("getNbRemainingEntities", state.NewFunction(func(l *lua.LState) int {
		l.Push(lua.LNumber(h.host.RemainingEntities()))
		return 1
	}))
}

// call invokes one entry point, isolating any script failure.
func (h *Hook) call(name string, args ...lua.LValue) {
	if h == nil || h.state == nil {
		return
	}
	fn := h.state.GetGlobal(name)
	if fn == lua.LNil {
		return
	}
	if err := h.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		h.logger.Warn("rules entry point failed",
			logging.String("entry", name), logging.Error(err))
	}
}

// OnPlayerAdded fires when a session is marked to play.
func (h *Hook) OnPlayerAdded(clientID int) { h.call("onPlayerAdded", lua.LNumber(clientID)) }

// OnPlayerRemoved fires when a playing session leaves.
func (h *Hook) OnPlayerRemoved(clientID int) { h.call("onPlayerRemoved", lua.LNumber(clientID)) }

// OnRoundBegins fires when physics ticking starts.
func (h *Hook) OnRoundBegins() { h.call("onRoundBegins") }

// OnRoundEnds fires at round teardown.
func (h *Hook) OnRoundEnds() { h.call("onRoundEnds") }

// OnPlayerWins fires when a seat crosses the finish line.
func (h *Hook) OnPlayerWins(clientID int) { h.call("onPlayerWins", lua.LNumber(clientID)) }

// OnPlayerDies fires when a seat crashes or is force-killed.
func (h *Hook) OnPlayerDies(clientID int) { h.call("onPlayerDies", lua.LNumber(clientID)) }

// OnPlayerTakesEntity fires when a playing seat claims a to-take item.
func (h *Hook) OnPlayerTakesEntity(clientID, entity int) {
	h.call("onPlayerTakesEntity", lua.LNumber(clientID), lua.LNumber(entity))
}

// OnEntityTakenExternal fires when an item is claimed by someone outside the
// round.
func (h *Hook) OnEntityTakenExternal(entity int) {
	h.call("onEntityTakenExternal", lua.LNumber(entity))
}
