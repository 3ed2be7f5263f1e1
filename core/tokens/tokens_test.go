package tokens

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/access"
)

type clock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

var jane = &access.Principal{ID: 7, Login: "jane"}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)}
	key := []byte("secret")
	m := NewManager(key, NewMemoryRepository()).WithClock(c.Now)

	token, err := m.Issue(ctx, jane)
	require.NoError(t, err)
	assert.Equal(t, int64(7), token.PrincipalID)
	assert.Equal(t, c.now.Add(10*24*time.Hour), token.Expires)
	assert.Equal(t, 3, len(strings.Split(token.Value, ".")))

	parsed := claims{}
	_, err = (&jwt.Parser{SkipClaimsValidation: true}).ParseWithClaims(token.Value, &parsed,
		func(*jwt.Token) (interface{}, error) { return key, nil })
	require.NoError(t, err)
	assert.Equal(t, "7", parsed.Subject)
	assert.Equal(t, "jane", parsed.Login)
	assert.Equal(t, c.now.Unix(), parsed.IssuedAt.Unix())
	assert.Equal(t, token.Expires.Unix(), parsed.ExpiresAt.Unix())

	other, err := m.Issue(ctx, jane)
	require.NoError(t, err)
	assert.NotEqual(t, token.Value, other.Value)

	_, err = m.Issue(ctx, nil)
	assert.Equal(t, core.KindAuthentication, core.KindOf(err))
	_, err = NewManager(nil, NewMemoryRepository()).Issue(ctx, jane)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager([]byte("secret"), NewMemoryRepository()).WithClock(c.Now)

	token, err := m.Issue(ctx, jane)
	require.NoError(t, err)

	id, err := m.Verify(ctx, token.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = m.Verify(ctx, "")
	assert.True(t, access.IsAuthenticationError(err))
	_, err = m.Verify(ctx, token.Value+"x")
	assert.True(t, access.IsAuthenticationError(err))

	c.Advance(Validity)
	_, err = m.Verify(ctx, token.Value)
	assert.NoError(t, err, "valid at the expiry instant")
	c.Advance(time.Second)
	_, err = m.Verify(ctx, token.Value)
	assert.True(t, access.IsAuthenticationError(err))
}

func TestReap(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)}
	repository := NewMemoryRepository()
	m := NewManager([]byte("secret"), repository).WithClock(c.Now)

	old, err := m.Issue(ctx, jane)
	require.NoError(t, err)
	c.Advance(5 * 24 * time.Hour)
	fresh, err := m.Issue(ctx, jane)
	require.NoError(t, err)

	n, err := m.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	c.Advance(5 * 24 * time.Hour)
	n, err = m.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "old expires right now")

	c.Advance(time.Second)
	n, err = m.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, repository.Len())

	_, err = m.Verify(ctx, old.Value)
	assert.True(t, access.IsAuthenticationError(err))
	_, err = m.Verify(ctx, fresh.Value)
	assert.NoError(t, err)
}

func TestExpiredOnInsert(t *testing.T) {
	ctx := context.Background()
	repository := NewMemoryRepository()
	m := NewManager([]byte("secret"), repository)
	require.NoError(t, repository.Insert(ctx, Token{Value: "stale", PrincipalID: 7, Expires: time.Now().Add(-time.Minute)}))

	_, err := m.Verify(ctx, "stale")
	assert.True(t, access.IsAuthenticationError(err))
	n, err := m.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, repository.Len())
	require.NoError(t, repository.Insert(ctx, Token{Value: "x"}))
	assert.Equal(t, core.KindConstraint, core.KindOf(repository.Insert(ctx, Token{Value: "x"})))
}

func TestRunReaper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repository := NewMemoryRepository()
	m := NewManager([]byte("secret"), repository)
	require.NoError(t, repository.Insert(ctx, Token{Value: "stale", PrincipalID: 7, Expires: time.Now().Add(-time.Minute)}))

	done := make(chan struct{})
	go func() {
		m.RunReaper(ctx, 10*time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool { return repository.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
