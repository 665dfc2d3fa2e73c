package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
)

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	st, err := s.Create("sess-1", "state-1", "verifier", "challenge", "nonce")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingCallback, st.Status)
	assert.NotEmpty(t, st.TraceID)

	got, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "verifier", got.PKCEVerifier)

	byState, err := s.FindByOAuthState("state-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", byState.SessionID)
}

func TestStore_FindByOAuthState_NotFound(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.FindByOAuthState("never-issued")
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestStore_Create_DuplicateOAuthState(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-a", "shared-state", "v", "c", "n")
	require.NoError(t, err)

	_, err = s.Create("sess-b", "shared-state", "v", "c", "n")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_Create_DuplicateID(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("dup", "dup-state", "v", "c", "n")
	require.NoError(t, err)

	_, err = s.Create("dup", "dup-state", "v", "c", "n")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStore_Create_Backpressure(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, WithMaxSessions(1))
	defer s.Close()

	_, err := s.Create("a", "a-state", "v", "c", "n")
	require.NoError(t, err)

	_, err = s.Create("b", "b-state", "v", "c", "n")
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrBackpressure))
}

func TestStore_Get_NotFound(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Transition_SingleTeamGoesStraightToReady(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	st, err := s.Transition("sess-1", []Status{StatusPendingCallback}, StatusReadyForExchange, func(st *State) {
		st.User = User{Subject: "u1", Email: "u1@example.com", Groups: []string{"mobile-developers"}}
		st.CandidateTeams = []string{"mobile-team"}
		st.SelectedTeam = "mobile-team"
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReadyForExchange, st.Status)
	assert.Equal(t, "mobile-team", st.SelectedTeam)

	found := s.FindByStatus(StatusReadyForExchange)
	require.Len(t, found, 1)
	assert.Equal(t, "sess-1", found[0].SessionID)
}

func TestStore_Transition_MultiTeamGoesThroughSelection(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	_, err = s.Transition("sess-1", []Status{StatusPendingCallback}, StatusAwaitingTeamSelect, func(st *State) {
		st.CandidateTeams = []string{"mobile-team", "backend-team"}
	})
	require.NoError(t, err)

	st, err := s.Transition("sess-1", []Status{StatusAwaitingTeamSelect}, StatusReadyForExchange, func(st *State) {
		st.SelectedTeam = "backend-team"
	})
	require.NoError(t, err)
	assert.Equal(t, "backend-team", st.SelectedTeam)
}

// TestStore_Transition_DoubleExchangeRace drives many goroutines racing
// to exchange the same READY_FOR_EXCHANGE session; exactly one must win.
func TestStore_Transition_DoubleExchangeRace(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)
	_, err = s.Transition("sess-1", []Status{StatusPendingCallback}, StatusReadyForExchange, nil)
	require.NoError(t, err)

	const racers = 20
	var wins int64
	var alreadyUsed int64
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Transition("sess-1", []Status{StatusReadyForExchange}, StatusExchanged, nil)
			if err == nil {
				atomic.AddInt64(&wins, 1)
				return
			}
			if brokererrors.Is(err, brokererrors.ErrSessionAlreadyUsed) {
				atomic.AddInt64(&alreadyUsed, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, racers-1, alreadyUsed)

	final, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusExchanged, final.Status)
}

func TestStore_BeginCompleteExchange(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)
	_, err = s.Transition("sess-1", []Status{StatusPendingCallback}, StatusReadyForExchange, nil)
	require.NoError(t, err)

	_, err = s.BeginExchange("sess-1")
	require.NoError(t, err)

	// A second claim attempt while the first is in flight is rejected as
	// already-used, not merely not-ready.
	_, err = s.BeginExchange("sess-1")
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrSessionAlreadyUsed))

	final, err := s.CompleteExchange("sess-1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusExchanged, final.Status)

	_, err = s.BeginExchange("sess-1")
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrSessionAlreadyUsed))
}

func TestStore_BeginExchange_FailureGoesToFailed(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)
	_, err = s.Transition("sess-1", []Status{StatusPendingCallback}, StatusReadyForExchange, nil)
	require.NoError(t, err)

	_, err = s.BeginExchange("sess-1")
	require.NoError(t, err)

	s.Fail("sess-1")

	final, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)

	_, err = s.CompleteExchange("sess-1", nil)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrSessionNotReady))
}

func TestStore_Transition_NotFound(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Transition("missing", []Status{StatusPendingCallback}, StatusReadyForExchange, nil)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrSessionNotFound))
}

func TestStore_Transition_WrongState(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	_, err = s.Transition("sess-1", []Status{StatusReadyForExchange}, StatusExchanged, nil)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrSessionNotReady))
}

func TestStore_Transition_ExpiredByTTL(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	// Just past the TTL is enough: the grace window only delays the
	// record's removal, never extends its usability.
	s.mu.Lock()
	s.byID["sess-1"].ExpiresAt = time.Now().Add(-time.Second)
	s.mu.Unlock()

	_, err = s.Transition("sess-1", []Status{StatusPendingCallback}, StatusReadyForExchange, nil)
	require.Error(t, err)
	assert.True(t, brokererrors.Is(err, brokererrors.ErrSessionExpired))
}

func TestStore_SweepExpiresStaleLiveSessions(t *testing.T) {
	t.Parallel()

	s := NewStore(10*time.Millisecond, WithCleanupInterval(20*time.Millisecond))
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	// Past its TTL but still inside the grace window: the sweep marks it
	// EXPIRED and keeps the record so a late poller gets a clean error.
	s.mu.Lock()
	s.byID["sess-1"].ExpiresAt = time.Now().Add(-time.Second)
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		st, err := s.Get("sess-1")
		return err == nil && st.Status == StatusExpired
	}, time.Second, 10*time.Millisecond)
}

func TestStore_SweepDropsSessionsPastGrace(t *testing.T) {
	t.Parallel()

	s := NewStore(10*time.Millisecond, WithCleanupInterval(20*time.Millisecond))
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	s.mu.Lock()
	s.byID["sess-1"].ExpiresAt = time.Now().Add(-2 * ExpiryGrace)
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		_, err := s.Get("sess-1")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 10*time.Millisecond)

	// Both indices are released, so the handles can be reissued.
	_, err = s.FindByOAuthState("sess-1-state")
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestStore_Fail(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("sess-1", "sess-1-state", "v", "c", "n")
	require.NoError(t, err)

	s.Fail("sess-1")

	st, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute)
	defer s.Close()

	_, err := s.Create("a", "a-state", "v", "c", "n")
	require.NoError(t, err)
	_, err = s.Create("b", "b-state", "v", "c", "n")
	require.NoError(t, err)
	_, err = s.Transition("b", []Status{StatusPendingCallback}, StatusReadyForExchange, nil)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.PendingCallback)
	assert.Equal(t, 1, stats.ReadyForExchange)
}

func TestStore_Close_StopsCleanupGoroutine(t *testing.T) {
	t.Parallel()

	s := NewStore(time.Minute, WithCleanupInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return in time")
	}
}
