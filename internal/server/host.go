package server

import (
	"time"
)

// rulesHost is the capability surface handed to the rules script. It is a
// thin view over the server; the hook only runs on the server loop goroutine.
type rulesHost struct {
	s *Server
}

func (h rulesHost) GetPoints(clientID int) int {
	sess, err := h.s.registry.Get(clientID)
	if err != nil {
		return 0
	}
	return sess.Points()
}

func (h rulesHost) AddPoints(clientID int, delta int) {
	sess, err := h.s.registry.Get(clientID)
	if err != nil {
		return
	}
	sess.AddPoints(delta)
}

func (h rulesHost) SendPoints() {
	h.s.sendPoints()
}

func (h rulesHost) RoundTime() time.Duration {
	return h.s.sched.GameTime()
}

func (h rulesHost) RemainingEntities() int {
	remaining := 0
	for _, scene := range h.s.scenes {
		remaining += scene.RemainingEntities()
	}
	return remaining
}
