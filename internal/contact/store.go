package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dhawalhost/contactguard/internal/enforce"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a contact does not exist.
var ErrNotFound = fmt.Errorf("contact not found: %w", enforce.ErrNotFound)

// Store defines contact lookups. The API never writes.
type Store interface {
	FindOne(ctx context.Context, id string) (Contact, error)
	Find(ctx context.Context) ([]Contact, error)
	HealthCheck(ctx context.Context) error
}

type memoryStore struct {
	order    []string
	contacts map[string]Contact
}

// NewMemoryStore creates a read-only Store over contacts. Find returns them
// in the given order. Missing tags are stored as an empty list.
func NewMemoryStore(contacts []Contact) (Store, error) {
	s := &memoryStore{contacts: make(map[string]Contact, len(contacts))}
	for _, c := range contacts {
		if c.ID == "" {
			return nil, errors.New("contact without id")
		}
		if _, dup := s.contacts[c.ID]; dup {
			return nil, fmt.Errorf("duplicate contact id %q", c.ID)
		}
		s.order = append(s.order, c.ID)
		s.contacts[c.ID] = cloneContact(c)
	}
	return s, nil
}

func (s *memoryStore) FindOne(ctx context.Context, id string) (Contact, error) {
	if err := ctx.Err(); err != nil {
		return Contact{}, err
	}
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return cloneContact(c), nil
}

func (s *memoryStore) Find(ctx context.Context) ([]Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneContact(s.contacts[id]))
	}
	return out, nil
}

func (s *memoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func cloneContact(c Contact) Contact {
	tags := make(pq.StringArray, len(c.Tags))
	copy(tags, c.Tags)
	c.Tags = tags
	return c
}

// LoadFixtures reads a JSON array of contacts from path.
func LoadFixtures(path string) ([]Contact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var contacts []Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("failed to decode fixtures %s: %w", path, err)
	}
	return contacts, nil
}
