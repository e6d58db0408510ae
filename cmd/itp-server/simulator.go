package main

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/itp-protocol/itp-go/pkg/addrspace"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

// simulator drives one sensor node with a mean-reverting Gaussian
// random walk.
type simulator struct {
	node   wire.NodeID
	cfg    SensorConfig
	space  *addrspace.Memory
	logger *slog.Logger

	mu    sync.Mutex
	value float64
}

func newSimulator(space *addrspace.Memory, cfg SensorConfig, logger *slog.Logger) (*simulator, error) {
	node := wire.NodeID{Namespace: 2, ID: cfg.Name}
	if err := space.AddVariable(node, cfg.Mean); err != nil {
		return nil, err
	}
	if cfg.EULow != 0 || cfg.EUHigh != 0 {
		if err := space.SetEURange(node, cfg.EULow, cfg.EUHigh); err != nil {
			return nil, err
		}
	}
	return &simulator{
		node:   node,
		cfg:    cfg,
		space:  space,
		logger: logger,
		value:  cfg.Mean,
	}, nil
}

// restore resumes the walk from a previously persisted value.
func (s *simulator) restore(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = s.clamp(v)
	return s.space.WriteValue(s.node, s.value)
}

// current returns the last value written to the address space.
func (s *simulator) current() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// run writes new values until the context is cancelled.
func (s *simulator) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

// step nudges the value with Gaussian noise and a pull back toward the
// mean, clamped to the engineering-unit range when one is configured.
func (s *simulator) step() {
	s.mu.Lock()
	s.value = s.clamp(s.value + rand.NormFloat64()*s.cfg.StdDev + (s.cfg.Mean-s.value)*0.1)
	v := s.value
	s.mu.Unlock()

	if err := s.space.WriteValue(s.node, v); err != nil {
		s.logger.Warn("sensor write failed", "node", s.node.String(), "err", err)
	}
}

func (s *simulator) clamp(v float64) float64 {
	if s.cfg.EULow == 0 && s.cfg.EUHigh == 0 {
		return v
	}
	if v < s.cfg.EULow {
		return s.cfg.EULow
	}
	if v > s.cfg.EUHigh {
		return s.cfg.EUHigh
	}
	return v
}
