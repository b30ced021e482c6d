package risk

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/valuation"
)

// Service keeps the exposure tree in step with published valuation
// snapshots and serves the last built tree to consumers.
type Service struct {
	log     *zap.Logger
	builder *Builder

	mu       sync.RWMutex
	tree     *Node
	snapshot valuation.Snapshot
}

func NewService(builder *Builder, log *zap.Logger) *Service {
	return &Service{log: log, builder: builder}
}

// Run rebuilds the tree for every snapshot received until the context is
// cancelled. snapshots is typically a Valuator subscription.
func (s *Service) Run(ctx context.Context, snapshots <-chan valuation.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			s.Rebuild(snap)
		}
	}
}

// Rebuild builds and stores the tree for one snapshot.
func (s *Service) Rebuild(snap valuation.Snapshot) *Node {
	tree := s.builder.Build(snap)
	s.mu.Lock()
	s.tree = tree
	s.snapshot = snap
	s.mu.Unlock()
	return tree
}

// Tree returns the last built tree and the snapshot it was built from.
// Callers must treat the tree as read-only.
func (s *Service) Tree() (*Node, valuation.Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree, s.snapshot
}
