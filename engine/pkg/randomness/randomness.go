// Package randomness defines the external randomness feed the engine consumes
// and the reduction of raw random bytes into a ticket number tuple.
package randomness

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// ValueSize is the number of random bytes a revealed commitment yields.
const ValueSize = 32

var (
	// ErrNotResolved indicates the commitment has not been revealed yet.
	ErrNotResolved = errors.New("randomness: value not resolved")

	// ErrUnknownReference indicates no commitment exists for the reference.
	ErrUnknownReference = errors.New("randomness: unknown reference")

	// ErrZeroBound indicates a reduction bound of zero.
	ErrZeroBound = errors.New("randomness: zero reduction bound")
)

// Source resolves a randomness commitment reference to its revealed value.
type Source interface {
	Reveal(ref solana.PublicKey) ([ValueSize]byte, error)
}

// Reduce maps the first six random bytes onto a number tuple, reducing each
// byte modulo the corresponding bound.
func Reduce(value [ValueSize]byte, bounds [6]uint8) ([6]uint8, error) {
	var out [6]uint8
	for i := range out {
		if bounds[i] == 0 {
			return out, fmt.Errorf("%w at position %d", ErrZeroBound, i)
		}
		out[i] = value[i] % bounds[i]
	}
	return out, nil
}

// ScriptedSource is a Source whose commitments are registered and revealed
// explicitly. It backs simulations and tests.
type ScriptedSource struct {
	mu      sync.Mutex
	commits map[solana.PublicKey]*commitment
}

type commitment struct {
	value    [ValueSize]byte
	revealed bool
}

var _ Source = (*ScriptedSource)(nil)

func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{commits: make(map[solana.PublicKey]*commitment)}
}

// Commit registers an unrevealed commitment under ref.
func (s *ScriptedSource) Commit(ref solana.PublicKey, value [ValueSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[ref] = &commitment{value: value}
}

// Resolve marks the commitment under ref as revealed.
func (s *ScriptedSource) Resolve(ref solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}
	c.revealed = true
	return nil
}

// CommitResolved registers an already revealed commitment under ref.
func (s *ScriptedSource) CommitResolved(ref solana.PublicKey, value [ValueSize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[ref] = &commitment{value: value, revealed: true}
}

func (s *ScriptedSource) Reveal(ref solana.PublicKey) ([ValueSize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[ref]
	if !ok {
		return [ValueSize]byte{}, fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}
	if !c.revealed {
		return [ValueSize]byte{}, ErrNotResolved
	}
	return c.value, nil
}

// ValueFor builds a random value whose reduction under bounds yields numbers,
// provided every number is below its bound.
func ValueFor(numbers [6]uint8) [ValueSize]byte {
	var v [ValueSize]byte
	copy(v[:6], numbers[:])
	return v
}
