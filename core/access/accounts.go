// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/restful/core"
)

// Accounts is the password based user management the API authenticates against
type Accounts interface {
	// Authenticate returns the principal for login and password, or core.ErrAuthentication
	Authenticate(ctx context.Context, login, password string) (*Principal, error)
	// ChangePassword re-verifies the old password before setting the new one
	ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error
	// Principal returns the principal with the given id, core.NotFoundError if there is none
	Principal(ctx context.Context, id int64) (*Principal, error)
}

// FunctionAccount is an account created at start-up
type FunctionAccount struct {
	Login    string
	Password string
	Roles    []string
}

// HashPassword returns the bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validateNewPassword(oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return core.InputError("Old password and new password are required")
	}
	if oldPassword == newPassword {
		return core.InputError("Old password and new password cannot be the same")
	}
	return nil
}

type memoryAccount struct {
	principal Principal
	hash      string
}

// MemoryAccounts keeps accounts in memory. This is go-routine safe.
type MemoryAccounts struct {
	mutex    sync.RWMutex
	accounts map[int64]*memoryAccount
	logins   map[string]int64
	nextID   int64
}

// NewMemoryAccounts creates in-memory accounts
func NewMemoryAccounts(accounts ...FunctionAccount) (*MemoryAccounts, error) {
	m := &MemoryAccounts{
		accounts: map[int64]*memoryAccount{},
		logins:   map[string]int64{},
	}
	for _, a := range accounts {
		if _, err := m.Add(a); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add creates an account and returns its principal
func (m *MemoryAccounts) Add(a FunctionAccount) (*Principal, error) {
	hash, err := HashPassword(a.Password)
	if err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.logins[a.Login]; ok {
		return nil, core.ConstraintError("Key (login)=("+a.Login+") already exists.", nil)
	}
	m.nextID++
	roles := append([]string{}, a.Roles...)
	sort.Strings(roles)
	account := &memoryAccount{
		principal: Principal{ID: m.nextID, Login: a.Login, Roles: roles},
		hash:      hash,
	}
	m.accounts[account.principal.ID] = account
	m.logins[a.Login] = account.principal.ID
	p := account.principal
	return &p, nil
}

// Authenticate implements Accounts
func (m *MemoryAccounts) Authenticate(ctx context.Context, login, password string) (*Principal, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	id, ok := m.logins[login]
	if !ok {
		return nil, core.ErrAuthentication
	}
	account := m.accounts[id]
	if !checkPassword(account.hash, password) {
		return nil, core.ErrAuthentication
	}
	p := account.principal
	return &p, nil
}

// ChangePassword implements Accounts
func (m *MemoryAccounts) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	if err := validateNewPassword(oldPassword, newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	account, ok := m.accounts[id]
	if !ok {
		return core.ErrAuthentication
	}
	if !checkPassword(account.hash, oldPassword) {
		return core.ErrAuthentication
	}
	account.hash = hash
	return nil
}

// Principal implements Accounts
func (m *MemoryAccounts) Principal(ctx context.Context, id int64) (*Principal, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, core.NotFoundError("principal %d not found", id)
	}
	p := account.principal
	return &p, nil
}

// IsAuthenticationError is true if err is core.ErrAuthentication
func IsAuthenticationError(err error) bool {
	return errors.Is(err, core.ErrAuthentication)
}
