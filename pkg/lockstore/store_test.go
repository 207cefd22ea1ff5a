package lockstore

import (
	"testing"
	"time"

	"github.com/cuemby/lockring/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireExcludesOtherClients(t *testing.T) {
	s := New()
	now := time.Now()

	tok := s.NextToken("res-1")
	status, lock := s.AcquireWithToken("res-1", "client-a", "us-east", tok, time.Minute, now)
	require.Equal(t, types.StatusOK, status)
	require.NotNil(t, lock)
	assert.Equal(t, uint64(1), lock.Token)
	assert.Equal(t, "us-east", lock.RegionID)

	tok2 := s.NextToken("res-1")
	status2, lock2 := s.AcquireWithToken("res-1", "client-b", "us-east", tok2, time.Minute, now)
	assert.Equal(t, types.StatusAlreadyLocked, status2)
	assert.Equal(t, "client-a", lock2.ClientID)
}

func TestReentrantAcquireBySameClientKeepsToken(t *testing.T) {
	s := New()
	now := time.Now()

	tok := s.NextToken("res-1")
	_, first := s.AcquireWithToken("res-1", "client-a", "us-east", tok, time.Minute, now)

	status, second := s.AcquireWithToken("res-1", "client-a", "us-east", 9999, time.Minute, now.Add(time.Second))
	require.Equal(t, types.StatusOK, status)
	assert.Equal(t, first.Token, second.Token)
}

func TestTokensAreMonotonic(t *testing.T) {
	s := New()
	a := s.NextToken("res-1")
	b := s.NextToken("res-1")
	c := s.NextToken("res-2")
	assert.Less(t, a, b)
	assert.Equal(t, uint64(1), c)
}

func TestReleaseRejectsStaleToken(t *testing.T) {
	s := New()
	now := time.Now()
	tok := s.NextToken("res-1")
	s.AcquireWithToken("res-1", "client-a", "us-east", tok, time.Minute, now)

	status := s.ReleaseByToken("res-1", tok+100, now)
	assert.Equal(t, types.StatusInvalidToken, status)

	status = s.ReleaseByToken("res-1", tok, now)
	assert.Equal(t, types.StatusOK, status)
}

func TestReleaseUnheldLockIsNotFound(t *testing.T) {
	s := New()
	status := s.ReleaseByToken("ghost", 1, time.Now())
	assert.Equal(t, types.StatusNotFound, status)
}

func TestLazyExpiryFreesTheLockOnNextTouch(t *testing.T) {
	s := New()
	now := time.Now()
	tok := s.NextToken("res-1")
	s.AcquireWithToken("res-1", "client-a", "us-east", tok, time.Millisecond, now)

	later := now.Add(time.Second)
	held, lock := s.Check("res-1", later)
	assert.False(t, held)
	assert.Nil(t, lock)

	tok2 := s.NextToken("res-1")
	status, newLock := s.AcquireWithToken("res-1", "client-b", "us-east", tok2, time.Minute, later)
	require.Equal(t, types.StatusOK, status)
	assert.Equal(t, "client-b", newLock.ClientID)
	assert.Greater(t, newLock.Token, tok)
}

func TestExtendRequiresMatchingToken(t *testing.T) {
	s := New()
	now := time.Now()
	tok := s.NextToken("res-1")
	s.AcquireWithToken("res-1", "client-a", "us-east", tok, time.Minute, now)

	status, _ := s.ExtendByToken("res-1", tok+1, time.Minute, now)
	assert.Equal(t, types.StatusInvalidToken, status)

	status, lock := s.ExtendByToken("res-1", tok, time.Hour, now)
	require.Equal(t, types.StatusOK, status)
	assert.True(t, lock.ExpiresAt.After(now.Add(time.Minute)))
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	s := New()
	now := time.Now()
	tok := s.NextToken("res-1")
	s.AcquireWithToken("res-1", "client-a", "us-east", tok, time.Minute, now)

	locks := s.All()
	tokens := s.AllTokens()

	s2 := New()
	s2.Restore(locks, tokens)

	held, lock := s2.Check("res-1", now)
	require.True(t, held)
	assert.Equal(t, "client-a", lock.ClientID)
	assert.Equal(t, tok, s2.PeekToken("res-1"))
}
