package model

import (
    "errors"
    "fmt"
)

// Transition errors returned by the state machines below.  Services
// surface them to callers as conflicts.
var (
    ErrInvalidPoolTransition        = errors.New("invalid pool transition")
    ErrInvalidReservationTransition = errors.New("invalid reservation transition")
    ErrInvalidSubmissionTransition  = errors.New("invalid submission transition")
)

// Machine is a finite-state machine over a string-backed status type.  It
// holds the set of legal edges and a single Transition function; every
// status write in the repository layer goes through one of these.
type Machine[S ~string] struct {
    name  string
    err   error
    edges map[S]map[S]struct{}
}

// NewMachine builds a machine from an adjacency list.  err is wrapped by
// Transition when an edge is not allowed.
func NewMachine[S ~string](name string, err error, edges map[S][]S) *Machine[S] {
    m := &Machine[S]{name: name, err: err, edges: make(map[S]map[S]struct{}, len(edges))}
    for from, tos := range edges {
        set := make(map[S]struct{}, len(tos))
        for _, to := range tos {
            set[to] = struct{}{}
        }
        m.edges[from] = set
    }
    return m
}

// Can reports whether from -> to is a legal edge.
func (m *Machine[S]) Can(from, to S) bool {
    _, ok := m.edges[from][to]
    return ok
}

// Transition validates from -> to and returns the new state.  Illegal
// edges, including self-loops, are rejected.
func (m *Machine[S]) Transition(from, to S) (S, error) {
    if !m.Can(from, to) {
        return from, fmt.Errorf("%w: %s %s -> %s", m.err, m.name, from, to)
    }
    return to, nil
}

// Terminal reports whether no edge leaves s.
func (m *Machine[S]) Terminal(s S) bool {
    return len(m.edges[s]) == 0
}
