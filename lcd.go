package snmp3

import (
	"errors"
	"sort"
	"sync"
)

type LocalConfigurationDatastore interface {
	UserTable
}

// UserTable is the usmUserTable of RFC 3414 holding passwords rather than
// localized keys.
type UserTable interface {
	AddUser(USMUserEntry) error
	GetUser(engineID EngineID, name string) (*USMUserEntry, error)
	DeleteUser(engineID EngineID, name string) error
}

// USMUserEntry is one user. A zero EngineID matches every authoritative
// engine.
type USMUserEntry struct {
	Name         string
	EngineID     EngineID
	AuthProtocol string
	AuthPassword string
	PrivProtocol string
	PrivPassword string
}

// Options returns the security options for exchanging messages as the user.
func (e *USMUserEntry) Options(host string) Options {
	return Options{
		Host:         host,
		EngineID:     e.EngineID,
		UserName:     e.Name,
		AuthProtocol: e.AuthProtocol,
		AuthPassword: e.AuthPassword,
		PrivProtocol: e.PrivProtocol,
		PrivPassword: e.PrivPassword,
	}
}

var ErrUserNotFound = errors.New("user not found")

func userKey(engineID EngineID, name string) string {
	return name + ":" + engineID.String()
}

// MemoryUserTable is a UserTable kept in memory.
type MemoryUserTable struct {
	mu    sync.RWMutex
	users map[string]USMUserEntry
}

func NewMemoryUserTable(users ...USMUserEntry) *MemoryUserTable {
	t := &MemoryUserTable{users: map[string]USMUserEntry{}}
	for _, u := range users {
		t.users[userKey(u.EngineID, u.Name)] = u
	}
	return t
}

func (t *MemoryUserTable) AddUser(u USMUserEntry) error {
	if len(u.Name) > maxUserNameLen {
		return &MalformedError{Field: "user name", Reason: "longer than 32 bytes"}
	}
	t.mu.Lock()
	t.users[userKey(u.EngineID, u.Name)] = u
	t.mu.Unlock()
	return nil
}

// GetUser prefers an entry bound to engineID over one bound to any engine.
func (t *MemoryUserTable) GetUser(engineID EngineID, name string) (*USMUserEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if u, ok := t.users[userKey(engineID, name)]; ok {
		return &u, nil
	}
	if u, ok := t.users[userKey(EngineID{}, name)]; ok {
		return &u, nil
	}
	return nil, ErrUserNotFound
}

func (t *MemoryUserTable) DeleteUser(engineID EngineID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := userKey(engineID, name)
	if _, ok := t.users[k]; !ok {
		return ErrUserNotFound
	}
	delete(t.users, k)
	return nil
}

// Users lists the entries sorted by name.
func (t *MemoryUserTable) Users() []USMUserEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]USMUserEntry, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return userKey(out[i].EngineID, out[i].Name) < userKey(out[j].EngineID, out[j].Name) })
	return out
}
