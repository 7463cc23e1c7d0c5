package main

import (
	"errors"
	"fmt"
	"sync"
)

const credentialKey = "google_access_token"

var ErrEmptyCredential = errors.New("credential must not be empty")

// AuthSession tracks the bearer credential used against the calendar API.
// It is authenticated exactly when it holds a non-empty credential.
type AuthSession struct {
	mu         sync.Mutex
	store      KVStore
	credential string

	onAuthenticated func()
	onCleared       func()
}

func NewAuthSession(store KVStore) *AuthSession {
	return &AuthSession{store: store}
}

// IsAuthenticated reports whether a credential is held in memory or can be
// resumed from the store. A resumed credential is adopted into memory.
func (s *AuthSession) IsAuthenticated() bool {
	_, ok := s.Credential()
	return ok
}

func (s *AuthSession) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.credential != "" {
		return s.credential, true
	}
	token, found, err := s.store.Get(credentialKey)
	if err != nil || !found || token == "" {
		return "", false
	}
	s.credential = token
	return token, true
}

func (s *AuthSession) SetCredential(token string) error {
	if token == "" {
		return ErrEmptyCredential
	}

	s.mu.Lock()
	if err := s.store.Set(credentialKey, token); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	s.credential = token
	notify := s.onAuthenticated
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// Clear drops the credential from memory and from the store. The in-memory
// credential is dropped even if the store fails.
func (s *AuthSession) Clear() error {
	s.mu.Lock()
	s.credential = ""
	err := s.store.Remove(credentialKey)
	cleared := s.onCleared
	s.mu.Unlock()

	if cleared != nil {
		cleared()
	}
	if err != nil {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	return nil
}
