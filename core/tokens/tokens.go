// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package tokens issues, verifies and reaps bearer credentials.

A credential is an HS256 signed JWT carrying the principal id (sub), the
principal login (lgn), the issue time (iat) and the expiry (exp). Every issued
credential is persisted as a token record. Verification only checks that a
non-expired record with the presented value exists; the signature is not
checked again. A token stays valid up to and including its expiry instant.

Expired records are deleted by the reaper:

	go manager.RunReaper(ctx, time.Hour)
*/
package tokens

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
	"github.com/relabs-tech/restful/core/logger"
)

// Validity is how long an issued token stays active
const Validity = 10 * 24 * time.Hour

// Token is a persisted credential
type Token struct {
	Value       string
	PrincipalID int64
	Expires     time.Time
}

// Expired is true once now is past the expiry. A token is still valid at the
// expiry instant itself.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.Expires)
}

// Repository persists token records
type Repository interface {
	// Insert stores a new token
	Insert(ctx context.Context, t Token) error
	// Lookup returns the token with the given value, nil if there is none
	Lookup(ctx context.Context, value string) (*Token, error)
	// DeleteExpired deletes all tokens expired at now and returns their number
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type claims struct {
	Login string `json:"lgn"`
	jwt.RegisteredClaims
}

// Manager is the token manager
type Manager struct {
	key        []byte
	repository Repository
	now        func() time.Time
}

// NewManager returns a token manager signing with key
func NewManager(key []byte, repository Repository) *Manager {
	return &Manager{key: key, repository: repository, now: time.Now}
}

// WithClock replaces the clock of the manager
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue creates and persists a new credential for principal
func (m *Manager) Issue(ctx context.Context, principal *access.Principal) (*Token, error) {
	if principal == nil {
		return nil, core.ErrAuthentication
	}
	if len(m.key) == 0 {
		return nil, errors.New("token signing key is not configured")
	}
	issued := m.now().UTC().Truncate(time.Second)
	expires := issued.Add(Validity)
	c := claims{
		Login: principal.Login,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.FormatInt(principal.ID, 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
	if err != nil {
		return nil, err
	}
	t := Token{Value: value, PrincipalID: principal.ID, Expires: expires}
	if err := m.repository.Insert(ctx, t); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debugf("issued token for %s, expires %s", principal.Login, expires.Format(time.RFC3339))
	return &t, nil
}

// Verify returns the principal id of an active credential. Unknown and
// expired credentials are core.ErrAuthentication.
func (m *Manager) Verify(ctx context.Context, credential string) (int64, error) {
	if credential == "" {
		return 0, core.ErrAuthentication
	}
	t, err := m.repository.Lookup(ctx, credential)
	if err != nil {
		return 0, err
	}
	if t == nil || t.Expired(m.now()) {
		return 0, core.ErrAuthentication
	}
	return t.PrincipalID, nil
}

// Reap deletes all expired tokens
func (m *Manager) Reap(ctx context.Context) (int64, error) {
	return m.repository.DeleteExpired(ctx, m.now())
}

// RunReaper reaps expired tokens every interval until ctx is done
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	rlog := logger.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Reap(ctx)
			if err != nil {
				rlog.WithError(err).Errorln("cannot reap tokens")
				continue
			}
			rlog.Infof("reaped %d expired tokens", n)
		}
	}
}
