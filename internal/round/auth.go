package round

import "sync"

// Authorizer decides whether a principal holds operator authority
type Authorizer interface {
	IsOperator(principal string) bool
}

// OperatorSet is a fixed set of operator principals
type OperatorSet struct {
	mu        sync.RWMutex
	operators map[string]struct{}
}

func NewOperatorSet(principals ...string) *OperatorSet {
	s := &OperatorSet{operators: make(map[string]struct{}, len(principals))}
	for _, p := range principals {
		if p != "" {
			s.operators[p] = struct{}{}
		}
	}
	return s
}

func (s *OperatorSet) IsOperator(principal string) bool {
	if principal == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.operators[principal]
	return ok
}

// Grant adds an operator at runtime
func (s *OperatorSet) Grant(principal string) {
	s.mu.Lock()
	s.operators[principal] = struct{}{}
	s.mu.Unlock()
}
