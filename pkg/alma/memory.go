package alma

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MemoryClient is an in-process directory. It backs tests and dry runs.
type MemoryClient struct {
	mu    sync.Mutex
	users map[string][]byte

	// CreateErr, UpdateErr and DeleteErr, when set, are returned by the
	// matching operation instead of touching the store.
	CreateErr error
	UpdateErr error
	DeleteErr error

	// Calls counts operations by name: create, get, update, delete.
	Calls map[string]int
}

// NewMemoryClient creates an empty directory.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		users: make(map[string][]byte),
		Calls: make(map[string]int),
	}
}

func memoryKey(primaryID, zone, env string) string {
	return zone + "|" + env + "|" + primaryID
}

// Put stores a record directly, replacing any existing one.
func (m *MemoryClient) Put(zone, env string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := gjson.GetBytes(data, "primary_id").String()
	m.users[memoryKey(id, zone, env)] = append([]byte(nil), data...)
}

// Exists reports whether a record is stored.
func (m *MemoryClient) Exists(primaryID, zone, env string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[memoryKey(primaryID, zone, env)]
	return ok
}

// Len returns the number of stored records.
func (m *MemoryClient) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// Create implements Client.
func (m *MemoryClient) Create(_ context.Context, zone, env string, data []byte, password string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["create"]++

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	id := gjson.GetBytes(data, "primary_id").String()
	if id == "" {
		return nil, &APIError{Status: 400, Code: "401855", Message: "primary_id is missing"}
	}
	key := memoryKey(id, zone, env)
	if _, exists := m.users[key]; exists {
		return nil, &APIError{Status: 400, Code: "401858", Message: fmt.Sprintf("user with identifier %s already exists", id)}
	}

	if password != "" {
		var err error
		if data, err = sjson.SetBytes(data, "password", password); err != nil {
			return nil, err
		}
	}
	m.users[key] = append([]byte(nil), data...)
	return NewUser(id, zone, env, data), nil
}

// Get implements Client.
func (m *MemoryClient) Get(_ context.Context, primaryID, zone, env string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["get"]++

	data, ok := m.users[memoryKey(primaryID, zone, env)]
	if !ok {
		return nil, fmt.Errorf("failed to fetch user %s: %w", primaryID, &APIError{
			Status:  400,
			Code:    "401861",
			Message: fmt.Sprintf("User with identifier %s was not found.", primaryID),
		})
	}
	return NewUser(primaryID, zone, env, data), nil
}

// Update implements Client.
func (m *MemoryClient) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["update"]++

	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	key := memoryKey(u.PrimaryID, u.Zone, u.Env)
	if _, ok := m.users[key]; !ok {
		return fmt.Errorf("failed to update user %s: %w", u.PrimaryID, ErrUserNotFound)
	}
	m.users[key] = u.Data()
	return nil
}

// Delete implements Client.
func (m *MemoryClient) Delete(_ context.Context, primaryID, zone, env string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["delete"]++

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	key := memoryKey(primaryID, zone, env)
	if _, ok := m.users[key]; !ok {
		return fmt.Errorf("failed to delete user %s: %w", primaryID, ErrUserNotFound)
	}
	delete(m.users, key)
	return nil
}
