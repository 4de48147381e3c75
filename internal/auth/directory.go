package auth

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Directory is the development server's employee credential table.
type Directory struct {
	mu    sync.RWMutex
	users map[string]account // lower-cased email -> account
}

type account struct {
	employeeID string
	hash       []byte
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[string]account)}
}

// Add registers an employee with a bcrypt-hashed password.
func (d *Directory) Add(email, employeeID, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	employeeID = strings.TrimSpace(employeeID)
	if email == "" || employeeID == "" || password == "" {
		return ErrInvalidInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[email] = account{employeeID: employeeID, hash: hash}
	return nil
}

// Authenticate returns the employee id for valid credentials.
func (d *Directory) Authenticate(email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	d.mu.RLock()
	acc, ok := d.users[email]
	d.mu.RUnlock()
	if !ok || password == "" {
		return "", ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return "", ErrUnauthorized
	}
	return acc.employeeID, nil
}
