package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// Storage persists serialized carts by session. Load returns nil data and
// no error when the session has no cart.
type Storage interface {
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Save(ctx context.Context, sessionID string, data []byte) error
	Delete(ctx context.Context, sessionID string) error
}

// Store reads and writes carts through a Storage.
type Store struct {
	storage Storage
}

// NewStore creates a cart store
func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Get returns the session's cart, or an empty cart if none is stored.
func (s *Store) Get(ctx context.Context, sessionID string) (*Cart, error) {
	data, err := s.storage.Load(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if data == nil {
		return &Cart{}, nil
	}
	return Unmarshal(data)
}

// Put stores the cart. An empty cart is deleted instead.
func (s *Store) Put(ctx context.Context, sessionID string, c *Cart) error {
	if c.Empty() {
		return s.Delete(ctx, sessionID)
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := s.storage.Save(ctx, sessionID, data); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

// Delete removes the session's cart.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.storage.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "delete cart")
	}
	return nil
}
