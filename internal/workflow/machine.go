// Package workflow holds status transition tables shared by the document lifecycles.
package workflow

import (
	"fmt"
	"sort"

	"github.com/lilas/backoffice/internal/shared"
)

// Machine is a closed transition table over a string status type.
type Machine[S ~string] struct {
	name  string
	edges map[S]map[S]struct{}
	known map[S]struct{}
}

// New builds a machine from an adjacency list. Statuses that only appear as
// targets are known but terminal.
func New[S ~string](name string, edges map[S][]S) *Machine[S] {
	m := &Machine[S]{name: name, edges: make(map[S]map[S]struct{}), known: make(map[S]struct{})}
	for from, targets := range edges {
		m.known[from] = struct{}{}
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
			m.known[to] = struct{}{}
		}
		m.edges[from] = set
	}
	return m
}

// Name returns the machine name used in error messages.
func (m *Machine[S]) Name() string {
	return m.name
}

// Known reports whether s belongs to the machine.
func (m *Machine[S]) Known(s S) bool {
	_, ok := m.known[s]
	return ok
}

// Can reports whether from -> to is an allowed transition.
func (m *Machine[S]) Can(from, to S) bool {
	_, ok := m.edges[from][to]
	return ok
}

// Terminal reports whether no transition leaves s.
func (m *Machine[S]) Terminal(s S) bool {
	return len(m.edges[s]) == 0
}

// Targets lists the statuses reachable from s in lexical order.
func (m *Machine[S]) Targets(s S) []S {
	out := make([]S, 0, len(m.edges[s]))
	for to := range m.edges[s] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transition validates from -> to and returns an InvalidState error otherwise.
func (m *Machine[S]) Transition(from, to S) error {
	if m.Can(from, to) {
		return nil
	}
	return shared.NewError(shared.ErrInvalidState, "INVALID_STATUS_TRANSITION",
		fmt.Sprintf("%s: cannot move from %q to %q", m.name, from, to))
}

// In reports whether s is one of set.
func In[S ~string](s S, set ...S) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
