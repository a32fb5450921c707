package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const expenseBucketName = "expenses"

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations
type DB interface {
	// SaveExpense saves an expense to the database
	SaveExpense(expense *Expense) error

	// GetExpense retrieves an expense by ID
	GetExpense(id string) (*Expense, error)

	// ListExpenses returns all expenses, newest first
	ListExpenses() ([]*Expense, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(expenseBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(expense *Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data, err := json.Marshal(expense)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(expense.ID), data)
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(id string) (*Expense, error) {
	var expense *Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expense %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &expense)
	})
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// ListExpenses returns all expenses, newest first
func (b *BoltDB) ListExpenses() ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var expense Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &expense)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].SubmittedAt.After(expenses[j].SubmittedAt)
	})
	return expenses, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
