package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that checkout writes through. Repositories
// obtained from the Store passed to fn share fn's transaction.
type Store interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Products() ProductRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Orders() OrderRepository     { return NewGormOrderRepository(s.db) }
func (s *GormStore) Payments() PaymentRepository { return NewGormPaymentRepository(s.db) }
func (s *GormStore) Products() ProductRepository { return NewGormProductRepository(s.db) }

// Transaction runs fn in a database transaction; any error rolls it back.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}
