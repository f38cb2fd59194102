// Package memory implements the store interfaces over process memory. It
// backs the DB-less mode (database.driver == "") and the service tests.
// Semantics mirror the gorm stores, including conflict and claim behavior.
package memory

import (
	"sync"

	"garita/internal/store"
)

// Stores bundles one coherent in-memory store set sharing a single lock, so
// cross-store operations observe a consistent state.
type Stores struct {
	mu sync.Mutex

	Devices     *DeviceStore
	Credentials *CredentialStore
	Events      *EventStore
	Commands    *CommandStore
	APITokens   *APITokenStore
}

func NewStores() *Stores {
	s := &Stores{}
	s.Devices = &DeviceStore{mu: &s.mu, byID: map[uint]*deviceRow{}}
	s.Credentials = &CredentialStore{mu: &s.mu, byID: map[uint]*credRow{}}
	s.Events = &EventStore{mu: &s.mu}
	s.Commands = &CommandStore{mu: &s.mu, byID: map[uint]*cmdRow{}}
	s.APITokens = &APITokenStore{mu: &s.mu}
	return s
}

var (
	_ store.DeviceStore     = (*DeviceStore)(nil)
	_ store.CredentialStore = (*CredentialStore)(nil)
	_ store.EventStore      = (*EventStore)(nil)
	_ store.CommandStore    = (*CommandStore)(nil)
	_ store.APITokenStore   = (*APITokenStore)(nil)
)
