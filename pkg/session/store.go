// Package session caches remote lookups for the lifetime of one command.
//
// Every lookup is fetch-or-reuse. Concurrent lookups of the same key share a single
// request. Work items are cached per iteration, and switching the document to a
// different iteration drops them.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrisonrobin/sprintplanner/pkg/model"
	"github.com/harrisonrobin/sprintplanner/pkg/parser"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Remote is the part of the REST client the store reads from.
type Remote interface {
	Iterations(ctx context.Context) ([]model.IterationInfo, error)
	CurrentIteration(ctx context.Context) (*model.IterationInfo, error)
	IterationWorkItems(ctx context.Context, iterationID string) ([]int, error)
	GetWorkItems(ctx context.Context, ids []int) ([]model.WorkItemInfo, error)
	ActivityTypes(ctx context.Context) ([]string, error)
	ProjectAreas(ctx context.Context) ([]string, error)
}

type Store struct {
	remote Remote
	parser *parser.Parser
	log    *zap.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	iterations []model.IterationInfo
	current    *model.IterationInfo
	custom     *model.IterationInfo
	selected   *model.IterationInfo
	activities []string
	areas      []string
	workItems  map[string][]model.WorkItemInfo
	generation int
}

func New(remote Remote, p *parser.Parser, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		remote:    remote,
		parser:    p,
		log:       logger,
		workItems: make(map[string][]model.WorkItemInfo),
	}
}

// Iterations returns the team's iterations.
func (s *Store) Iterations(ctx context.Context) ([]model.IterationInfo, error) {
	s.mu.RLock()
	cached := s.iterations
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := s.group.Do("iterations", func() (any, error) {
		its, err := s.remote.Iterations(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.iterations = its
		s.mu.Unlock()
		s.log.Debug("iterations fetched", zap.Int("count", len(its)))
		return its, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch iterations: %w", err)
	}
	return v.([]model.IterationInfo), nil
}

// ActivityTypes returns the allowed task activities.
func (s *Store) ActivityTypes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	cached := s.activities
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := s.group.Do("activities", func() (any, error) {
		types, err := s.remote.ActivityTypes(ctx)
		if err != nil {
			return nil, err
		}
		if types == nil {
			types = []string{}
		}
		s.mu.Lock()
		s.activities = types
		s.mu.Unlock()
		return types, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activity types: %w", err)
	}
	return v.([]string), nil
}

// Areas returns every area path of the project.
func (s *Store) Areas(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	cached := s.areas
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := s.group.Do("areas", func() (any, error) {
		areas, err := s.remote.ProjectAreas(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.areas = areas
		s.mu.Unlock()
		return areas, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch areas: %w", err)
	}
	return v.([]string), nil
}

// DetermineIteration picks the iteration for the document: the one named by an
// IT# marker at the top of lines, or the team's current iteration. A change of
// iteration drops the cached work items.
func (s *Store) DetermineIteration(ctx context.Context, lines []string) (*model.IterationInfo, error) {
	custom, err := s.customIteration(ctx, lines)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if iterationID(custom) != iterationID(s.custom) {
		s.log.Info("clearing cache as the iteration has changed",
			zap.String("from", iterationID(s.custom)), zap.String("to", iterationID(custom)))
		s.invalidateLocked()
	}
	s.custom = custom
	s.mu.Unlock()

	if custom != nil {
		s.setSelected(custom)
		return custom, nil
	}

	cur, err := s.currentIteration(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("iteration defaulted to the current one", zap.String("path", cur.Path))
	s.setSelected(cur)
	return cur, nil
}

func (s *Store) setSelected(it *model.IterationInfo) {
	s.mu.Lock()
	s.selected = it
	s.mu.Unlock()
}

func (s *Store) customIteration(ctx context.Context, lines []string) (*model.IterationInfo, error) {
	marker, ok := s.parser.FindNearestIterationMarker(lines, 0)
	if !ok {
		s.log.Debug("iteration not specified, using the current iteration")
		return nil, nil
	}

	its, err := s.Iterations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range its {
		if its[i].ID == marker.ID {
			it := its[i]
			s.log.Debug("iteration set from document", zap.String("path", it.Path))
			return &it, nil
		}
	}
	s.log.Warn("iteration marker does not match any team iteration, using the current iteration",
		zap.String("id", marker.ID))
	return nil, nil
}

func (s *Store) currentIteration(ctx context.Context) (*model.IterationInfo, error) {
	s.mu.RLock()
	cached := s.current
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := s.group.Do("current", func() (any, error) {
		cur, err := s.remote.CurrentIteration(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.current = cur
		s.mu.Unlock()
		return cur, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current iteration: %w", err)
	}
	return v.(*model.IterationInfo), nil
}

// WorkItems returns the work items of one type planned in the selected iteration.
// The current iteration is used when DetermineIteration was never called.
func (s *Store) WorkItems(ctx context.Context, workItemType string) ([]model.WorkItemInfo, error) {
	s.mu.RLock()
	cached, ok := s.workItems[workItemType]
	it := s.selected
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if it == nil {
		var err error
		if it, err = s.DetermineIteration(ctx, nil); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	v, err, _ := s.group.Do("workitems:"+it.ID+":"+workItemType, func() (any, error) {
		ids, err := s.remote.IterationWorkItems(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		all, err := s.remote.GetWorkItems(ctx, ids)
		if err != nil {
			return nil, err
		}
		items := []model.WorkItemInfo{}
		for _, w := range all {
			if w.Type == workItemType {
				items = append(items, w)
			}
		}
		s.mu.Lock()
		if s.generation == gen {
			s.workItems[workItemType] = items
		}
		s.mu.Unlock()
		s.log.Debug("work items fetched",
			zap.String("type", workItemType), zap.String("iteration", it.Path), zap.Int("count", len(items)))
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch work items: %w", err)
	}
	return v.([]model.WorkItemInfo), nil
}

// WorkItemInfo returns the cached work item with id, or nil when the selected
// iteration does not contain it.
func (s *Store) WorkItemInfo(ctx context.Context, id int, workItemType string) (*model.WorkItemInfo, error) {
	items, err := s.WorkItems(ctx, workItemType)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			w := items[i]
			return &w, nil
		}
	}
	return nil, nil
}

// Invalidate drops cached work items.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()
}

func (s *Store) invalidateLocked() {
	s.workItems = make(map[string][]model.WorkItemInfo)
	s.generation++
}

func iterationID(it *model.IterationInfo) string {
	if it == nil {
		return ""
	}
	return it.ID
}
