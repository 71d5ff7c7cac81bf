package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	hashes    map[string]string
	hasher    *Hasher
	policy    Policy
	dummyHash string
}

func NewMemoryStore(hasher *Hasher, policy Policy) *MemoryStore {
	dummy, _ := hasher.Hash(uuid.NewString())
	return &MemoryStore{
		hashes:    make(map[string]string),
		hasher:    hasher,
		policy:    policy,
		dummyHash: dummy,
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, username, password string) error {
	if err := m.policy.Validate(username, password); err != nil {
		return err
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[username]; ok {
		return duplicate(username)
	}
	m.hashes[username] = hash
	return nil
}

func (m *MemoryStore) VerifyPassword(_ context.Context, username, password string) error {
	m.mu.RLock()
	hash, ok := m.hashes[username]
	m.mu.RUnlock()
	if !ok {
		_ = m.hasher.Compare(m.dummyHash, password)
		return ErrUserNotFound
	}
	return m.hasher.Compare(hash, password)
}
