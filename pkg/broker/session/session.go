// Package session implements the broker's in-memory session store:
// the authoritative state machine tracking every login attempt from the
// initial callback through token exchange.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

// Status is a SessionState's position in the broker's state machine.
type Status string

const (
	StatusPendingCallback    Status = "PENDING_CALLBACK"
	StatusAwaitingTeamSelect Status = "AWAITING_TEAM_SELECTION"
	StatusReadyForExchange   Status = "READY_FOR_EXCHANGE"
	StatusExchanged          Status = "EXCHANGED"
	StatusFailed             Status = "FAILED"
	StatusExpired            Status = "EXPIRED"

	// statusExchanging is an internal-only mid-state, never returned to a
	// client: it claims the single-use exchange slot for the instant a
	// Vault round trip is in flight, so that a concurrent duplicate
	// /exchange request is rejected as SESSION_ALREADY_USED instead of
	// racing to also mint a token. It collapses to StatusExchanged or
	// StatusFailed before any handler returns, or to StatusExpired if the
	// session's TTL passes while the exchange is in flight.
	statusExchanging Status = "EXCHANGING"
)

// DefaultCleanupInterval is how often the background sweep looks for
// expired sessions absent an explicit WithCleanupInterval.
const DefaultCleanupInterval = 30 * time.Second

// ExpiryGrace is how long an EXPIRED (or otherwise terminal) record is
// kept around after its TTL before the sweep drops it entirely, so a
// late poller gets a clean SESSION_EXPIRED instead of SESSION_NOT_FOUND.
const ExpiryGrace = 60 * time.Second

var (
	// ErrNotFound is returned when no session exists for a given id.
	ErrNotFound = errors.New("session: not found")
	// ErrAlreadyExists is returned by Create on a session_id collision.
	ErrAlreadyExists = errors.New("session: already exists")
	// ErrStateNotFound is returned when no session is indexed under a
	// given OAuth state parameter.
	ErrStateNotFound = errors.New("session: state not found")
)

// User carries the IdP-asserted identity captured at callback time.
type User struct {
	Subject     string
	Email       string
	DisplayName string
	Groups      []string
}

// State is one session's full record. Only the store mutates it, always
// under its lock; callers receive copies.
type State struct {
	SessionID string
	// TraceID is an internal correlation identifier distinct from the
	// public SessionID and from OAuthState. It is assigned at creation;
	// no log line records it and nothing else in the broker reads it.
	TraceID string
	// OAuthState is the opaque `state` parameter sent to the IdP and
	// echoed back on /auth/callback; it rejoins the browser redirect to
	// this record and is never exposed beyond that round trip.
	OAuthState    string
	Status        Status
	PKCEVerifier  string
	PKCEChallenge string
	Nonce         string
	CreatedAt     time.Time
	ExpiresAt     time.Time

	User            User
	CandidateTeams  []string
	SelectedTeam    string

	// VaultTokenCache is reserved for a future session-replay grace
	// window. It is never populated or read today: exchange is
	// strictly single-use.
	VaultTokenCache string
}

func (s State) clone() State {
	cloned := s
	cloned.User.Groups = append([]string(nil), s.User.Groups...)
	cloned.CandidateTeams = append([]string(nil), s.CandidateTeams...)
	return cloned
}

// Stats summarizes store occupancy, exposed on /health.
type Stats struct {
	Total              int
	PendingCallback    int
	AwaitingTeamSelect int
	ReadyForExchange   int
	Exchanged          int
	Failed             int
	Expired            int
}

// Store is the broker's session registry: a primary index by session_id
// plus a secondary index by status, guarded by a single RWMutex and
// swept periodically by a background goroutine.
type Store struct {
	mu sync.RWMutex

	byID         map[string]*State
	byOAuthState map[string]string // OAuthState -> SessionID
	byState      map[Status]map[string]struct{}

	maxSessions     int
	sessionTTL      time.Duration
	cleanupInterval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// WithMaxSessions bounds the number of live (non-terminal, non-expired)
// sessions Create will admit before returning BACKPRESSURE. Zero means
// unbounded.
func WithMaxSessions(n int) Option {
	return func(s *Store) { s.maxSessions = n }
}

// NewStore builds a Store with the given default session TTL and starts
// its background cleanup goroutine. Close stops the goroutine.
func NewStore(sessionTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		byID:            make(map[string]*State),
		byOAuthState:    make(map[string]string),
		byState:         make(map[Status]map[string]struct{}),
		sessionTTL:      sessionTTL,
		cleanupInterval: DefaultCleanupInterval,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup goroutine and waits for it to exit.
func (s *Store) Close() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Store) cleanupLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Store) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, st := range s.byID {
		terminal := st.Status == StatusExchanged || st.Status == StatusFailed || st.Status == StatusExpired
		if !terminal && now.After(st.ExpiresAt) {
			s.setStatusLocked(st, StatusExpired)
			logger.Debugw("session expired by sweep", "session_id", id)
		}
		if now.After(st.ExpiresAt.Add(ExpiryGrace)) {
			s.removeLocked(st)
			logger.Debugw("session dropped by sweep", "session_id", id)
		}
	}
}

func (s *Store) removeLocked(st *State) {
	if idx, ok := s.byState[st.Status]; ok {
		delete(idx, st.SessionID)
	}
	delete(s.byOAuthState, st.OAuthState)
	delete(s.byID, st.SessionID)
}

func (s *Store) setStatusLocked(st *State, status Status) {
	if idx, ok := s.byState[st.Status]; ok {
		delete(idx, st.SessionID)
	}
	st.Status = status
	idx, ok := s.byState[status]
	if !ok {
		idx = make(map[string]struct{})
		s.byState[status] = idx
	}
	idx[st.SessionID] = struct{}{}
}

func (s *Store) liveCountLocked() int {
	n := 0
	for _, st := range s.byID {
		if st.Status != StatusExchanged && st.Status != StatusFailed && st.Status != StatusExpired {
			n++
		}
	}
	return n
}

// Create admits a new PENDING_CALLBACK session, indexed by both sessionID
// and oauthState. Returns BACKPRESSURE if the store is at its configured
// capacity, or ErrAlreadyExists if either handle collides with an
// existing record; both handles stay globally unique for the store's
// lifetime.
func (s *Store) Create(sessionID, oauthState, pkceVerifier, pkceChallenge, nonce string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[sessionID]; exists {
		return nil, ErrAlreadyExists
	}
	if _, exists := s.byOAuthState[oauthState]; exists {
		return nil, ErrAlreadyExists
	}
	if s.maxSessions > 0 && s.liveCountLocked() >= s.maxSessions {
		return nil, brokererrors.NewBackpressureError("session store at capacity", nil)
	}

	now := time.Now()
	st := &State{
		SessionID:     sessionID,
		TraceID:       uuid.NewString(),
		OAuthState:    oauthState,
		Status:        StatusPendingCallback,
		PKCEVerifier:  pkceVerifier,
		PKCEChallenge: pkceChallenge,
		Nonce:         nonce,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.sessionTTL),
	}
	s.byID[sessionID] = st
	s.byOAuthState[oauthState] = sessionID
	s.setStatusLocked(st, StatusPendingCallback)

	cloned := st.clone()
	return &cloned, nil
}

// Get returns a copy of the session with id, or ErrNotFound.
func (s *Store) Get(id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := st.clone()
	return &cloned, nil
}

// FindByOAuthState looks up the session that was issued oauthState as its
// IdP `state` parameter. A callback whose state was never issued by this
// broker, or belongs to no live session, returns ErrStateNotFound — the
// HTTP surface maps this to INVALID_STATE without ever calling the IdP's
// token endpoint.
func (s *Store) FindByOAuthState(oauthState string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOAuthState[oauthState]
	if !ok {
		return nil, ErrStateNotFound
	}
	st, ok := s.byID[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	cloned := st.clone()
	return &cloned, nil
}

// FindByStatus returns copies of every session currently in status.
func (s *Store) FindByStatus(status Status) []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byState[status]
	out := make([]*State, 0, len(idx))
	for id := range idx {
		cloned := s.byID[id].clone()
		out = append(out, &cloned)
	}
	return out
}

// Mutator inspects and updates a session's fields in place, under the
// store's lock. It must not change Status or SessionID; Transition
// owns the status change.
type Mutator func(*State)

// Transition atomically moves the session with id from one of the
// expected "from" statuses to "to", applying mutate first. It fails if
// the session does not exist, is expired, or is not currently in one
// of the expected statuses — the last case being how double-exchange
// and other replayed-request races are rejected: only the request that
// observes the expected pre-state wins the transition.
func (s *Store) Transition(id string, from []Status, to Status, mutate Mutator) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byID[id]
	if !ok {
		return nil, brokererrors.NewSessionNotFoundError("session not found", ErrNotFound)
	}

	if st.Status == StatusExpired || time.Now().After(st.ExpiresAt) {
		if st.Status != StatusExpired {
			s.setStatusLocked(st, StatusExpired)
		}
		return nil, brokererrors.NewSessionExpiredError("session has expired", nil)
	}

	matched := false
	for _, f := range from {
		if st.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		if st.Status == StatusExchanged || st.Status == statusExchanging {
			return nil, brokererrors.NewSessionAlreadyUsedError("session has already been exchanged", nil)
		}
		return nil, brokererrors.NewSessionNotReadyError("session is not in an expected state for this operation", nil)
	}

	if mutate != nil {
		mutate(st)
	}
	s.setStatusLocked(st, to)

	cloned := st.clone()
	return &cloned, nil
}

// BeginExchange claims a READY_FOR_EXCHANGE session's single-use exchange
// slot, moving it to the internal statusExchanging. Exactly one concurrent
// caller wins this CAS; every other caller (including one that arrives
// while the winner's Vault round trip is still in flight) receives
// SESSION_ALREADY_USED. Callers must follow a successful claim with
// either CompleteExchange or Fail.
func (s *Store) BeginExchange(id string) (*State, error) {
	return s.Transition(id, []Status{StatusReadyForExchange}, statusExchanging, nil)
}

// CompleteExchange finalizes a claimed exchange, moving the session from
// statusExchanging to EXCHANGED and applying mutate (typically recording
// nothing further; the minted token is never stored on the session).
func (s *Store) CompleteExchange(id string, mutate Mutator) (*State, error) {
	return s.Transition(id, []Status{statusExchanging}, StatusExchanged, mutate)
}

// Fail transitions the session with id to FAILED unless it is already
// EXCHANGED or FAILED (an unknown id is ignored), recording no cause
// beyond the status change itself; callers that need to surface why
// should do so via their own error return.
func (s *Store) Fail(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byID[id]
	if !ok {
		return
	}
	if st.Status == StatusExchanged || st.Status == StatusFailed {
		return
	}
	s.setStatusLocked(st, StatusFailed)
}

// Stats reports current occupancy across every status.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Total:              len(s.byID),
		PendingCallback:    len(s.byState[StatusPendingCallback]),
		AwaitingTeamSelect: len(s.byState[StatusAwaitingTeamSelect]),
		ReadyForExchange:   len(s.byState[StatusReadyForExchange]),
		Exchanged:          len(s.byState[StatusExchanged]),
		Failed:             len(s.byState[StatusFailed]),
		Expired:            len(s.byState[StatusExpired]),
	}
}
