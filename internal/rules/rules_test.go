package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hillpursuit/server/internal/logging"
)

type fakeHost struct {
	points    map[int]int
	sends     int
	roundTime time.Duration
	remaining int
}

func newFakeHost() *fakeHost {
	return &fakeHost{points: make(map[int]int)}
}

func (h *fakeHost) GetPoints(clientID int) int        { return h.points[clientID] }
func (h *fakeHost) AddPoints(clientID int, delta int) { h.points[clientID] += delta }
func (h *fakeHost) SendPoints()                       { h.sends++ }
func (h *fakeHost) RoundTime() time.Duration          { return h.roundTime }
func (h *fakeHost) RemainingEntities() int            { return h.remaining }

func TestDefaultScriptScoring(t *testing.T) {
	host := newFakeHost()
	hook, err := New(host, logging.NewTestLogger(), "")
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	defer hook.Close()

	hook.OnPlayerTakesEntity(4, 0)
	hook.OnPlayerTakesEntity(4, 1)
	hook.OnPlayerWins(4)
	hook.OnRoundEnds()

	if host.points[4] != 12 {
		t.Fatalf("expected 12 points, got %d", host.points[4])
	}
	if host.sends != 2 {
		t.Fatalf("expected 2 score broadcasts, got %d", host.sends)
	}
}

func TestMissingEntryPointIsNoOp(t *testing.T) {
	host := newFakeHost()
	hook, err := New(host, logging.NewTestLogger(), "")
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	defer hook.Close()

	// The default script defines no onPlayerDies handler.
	hook.OnPlayerDies(3)
	if len(host.points) != 0 {
		t.Fatalf("unexpected score mutation: %+v", host.points)
	}
}

func TestScriptErrorIsIsolated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.lua")
	script := `
function onPlayerWins(id)
  error("boom")
end

function onPlayerTakesEntity(id, entity)
  addPoints(id, getNbRemainingEntities())
end
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	host := newFakeHost()
	host.remaining = 7
	hook, err := New(host, logging.NewTestLogger(), path)
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	defer hook.Close()

	//1.- A runtime error in one entry point must not poison the next call.
	hook.OnPlayerWins(2)
	hook.OnPlayerTakesEntity(2, 0)
	if host.points[2] != 7 {
		t.Fatalf("expected 7 points via host API, got %d", host.points[2])
	}
}

func TestReloadKeepsOldStateOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.lua")
	if err := os.WriteFile(path, []byte(`function onPlayerWins(id) addPoints(id, 5) end`), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	host := newFakeHost()
	hook, err := New(host, logging.NewTestLogger(), path)
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	defer hook.Close()

	if err := os.WriteFile(path, []byte(`this is not lua`), 0o644); err != nil {
		t.Fatalf("overwrite script: %v", err)
	}
	if err := hook.Reload(); err == nil {
		t.Fatalf("expected reload error for a broken script")
	}
	//1.- The previous rules keep working after the failed reload.
	hook.OnPlayerWins(9)
	if host.points[9] != 5 {
		t.Fatalf("old state lost after failed reload: %d", host.points[9])
	}
}
