// Package supervisor keeps at most one shaping engine per form position.
package supervisor

import (
	"errors"
	"io"
	"log"
	"sort"
	"sync"

	"clayformer.ai/internal/sim/shaping"
	"clayformer.ai/internal/sim/voxel"
)

type entry struct {
	eng      *shaping.Engine
	recipeID string
}

// Supervisor owns the position to engine registry. Engines are built from a
// shared template config; Form and OnDone are filled in per start.
type Supervisor struct {
	base shaping.Config
	log  *log.Logger

	mu      sync.Mutex
	engines map[voxel.BlockPos]entry

	onDone func(*shaping.Engine)
}

// New returns a supervisor building engines from base. onDone, if set, runs
// after a finished engine has been removed.
func New(base shaping.Config, logger *log.Logger, onDone func(*shaping.Engine)) *Supervisor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Supervisor{base: base, log: logger, engines: map[voxel.BlockPos]entry{}, onDone: onDone}
}

// Start runs an engine for the form at pos. A running engine for the same
// recipe is kept; one for another recipe is stopped and replaced. It reports
// whether a new engine was started.
func (s *Supervisor) Start(pos voxel.BlockPos, recipeID string) (*shaping.Engine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.engines[pos]; ok {
		if cur.eng.Active() && cur.recipeID == recipeID {
			return cur.eng, false, nil
		}
		cur.eng.Stop()
		delete(s.engines, pos)
		s.log.Printf("form %d,%d,%d: replaced recipe=%s with recipe=%s", pos.X, pos.Y, pos.Z, cur.recipeID, recipeID)
	}

	cfg := s.base
	cfg.Form = pos
	cfg.OnDone = s.done
	eng, err := shaping.New(cfg)
	if err != nil {
		return nil, false, err
	}
	s.engines[pos] = entry{eng: eng, recipeID: recipeID}
	eng.Start()
	return eng, true, nil
}

var ErrNotRunning = errors.New("supervisor: no engine at position")

func (s *Supervisor) Stop(pos voxel.BlockPos) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.engines[pos]
	if !ok {
		return ErrNotRunning
	}
	cur.eng.Stop()
	delete(s.engines, pos)
	return nil
}

// StopAll stops every engine, used on shutdown.
func (s *Supervisor) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.engines)
	for pos, cur := range s.engines {
		cur.eng.Stop()
		delete(s.engines, pos)
	}
	return n
}

func (s *Supervisor) Get(pos voxel.BlockPos) (*shaping.Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.engines[pos]
	return cur.eng, ok
}

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}

// Active returns the status of every registered engine ordered by position.
func (s *Supervisor) Active() []shaping.Status {
	s.mu.Lock()
	out := make([]shaping.Status, 0, len(s.engines))
	for _, cur := range s.engines {
		out = append(out, cur.eng.Status())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Form, out[j].Form
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// done drops a finished engine unless it was already replaced.
func (s *Supervisor) done(eng *shaping.Engine) {
	s.mu.Lock()
	cur, ok := s.engines[eng.Form()]
	if ok && cur.eng == eng {
		delete(s.engines, eng.Form())
	}
	s.mu.Unlock()
	if s.onDone != nil {
		s.onDone(eng)
	}
}
