package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/trenner1/bazel-auth-broker/pkg/broker/jwtissuer"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/oidcclient"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/session"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/team"
	"github.com/trenner1/bazel-auth-broker/pkg/broker/vaultclient"
	"github.com/trenner1/bazel-auth-broker/pkg/brokererrors"
	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

// stateCookieName is the CSRF cross-check cookie /auth/login sets,
// equal to the server-side state value for the session it just created.
const stateCookieName = "bazel_auth_broker_state"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	vaultReachable := false
	if s.vault != nil {
		vaultReachable = s.vault.Healthy(r.Context())
	}
	stats := s.sessions.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		AuthMethod:     s.authMethod,
		VaultReachable: vaultReachable,
		Sessions: healthSessionStats{
			Active:    stats.PendingCallback + stats.AwaitingTeamSelect + stats.ReadyForExchange,
			Exchanged: stats.Exchanged,
			Failed:    stats.Failed,
			Expired:   stats.Expired,
		},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := s.keyManager.JWKS(r.Context())
	if err != nil {
		writeError(w, brokererrors.NewInternalError("failed to build jwks document", err))
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, set)
}

// beginFlow creates a new session plus its PKCE/nonce/state material and
// returns the fully-formed authorization URL, shared by /cli/start and
// /auth/login.
func (s *Server) beginFlow() (*session.State, string, error) {
	pkce, err := oidcclient.GeneratePKCEParams()
	if err != nil {
		return nil, "", brokererrors.NewInternalError("failed to generate pkce parameters", err)
	}
	nonce, err := oidcclient.GenerateNonce()
	if err != nil {
		return nil, "", brokererrors.NewInternalError("failed to generate nonce", err)
	}
	oauthState, err := oidcclient.GenerateState()
	if err != nil {
		return nil, "", brokererrors.NewInternalError("failed to generate state", err)
	}
	sessionID, err := oidcclient.GenerateSessionID()
	if err != nil {
		return nil, "", brokererrors.NewInternalError("failed to generate session id", err)
	}

	st, err := s.sessions.Create(sessionID, oauthState, pkce.CodeVerifier, pkce.CodeChallenge, nonce)
	if err != nil {
		if berr, ok := err.(*brokererrors.Error); ok {
			return nil, "", berr
		}
		return nil, "", brokererrors.NewInternalError("failed to create session", err)
	}

	authURL := s.oidc.BuildAuthorizeURL(oauthState, pkce.CodeChallenge, nonce)
	return st, authURL, nil
}

func (s *Server) handleCLIStart(w http.ResponseWriter, r *http.Request) {
	st, authURL, err := s.beginFlow()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cliStartResponse{
		SessionID: st.SessionID,
		State:     st.OAuthState,
		AuthURL:   authURL,
		ExpiresIn: int(time.Until(st.ExpiresAt).Seconds()),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, indexTemplate, nil)
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	st, authURL, err := s.beginFlow()
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    st.OAuthState,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  st.ExpiresAt,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	oauthState := r.URL.Query().Get("state")

	if cookie, err := r.Cookie(stateCookieName); err == nil && cookie.Value != oauthState {
		writeError(w, brokererrors.NewInvalidStateError("state cookie does not match callback state", nil))
		return
	}

	st, err := s.sessions.FindByOAuthState(oauthState)
	if err != nil {
		// A state never issued by this broker must never reach the IdP
		// token endpoint.
		writeError(w, brokererrors.NewInvalidStateError("unrecognized or expired state parameter", err))
		return
	}

	if err := s.runCallback(ctx, st, code); err != nil {
		s.sessions.Fail(st.SessionID)
		writeError(w, err)
		return
	}

	final, err := s.sessions.Get(st.SessionID)
	if err != nil {
		writeError(w, brokererrors.NewInternalError("session vanished after callback", err))
		return
	}

	switch final.Status {
	case session.StatusReadyForExchange:
		renderHTML(w, callbackTemplate, callbackPageData{SessionID: final.SessionID, Team: final.SelectedTeam})
	case session.StatusAwaitingTeamSelect:
		http.Redirect(w, r, "/auth/select-team?session_id="+final.SessionID, http.StatusFound)
	default:
		writeError(w, brokererrors.NewInternalError("session left callback in an unexpected state", nil))
	}
}

// runCallback handles the callback leg of the flow: exchange the code,
// verify the ID token, resolve teams, and transition the session
// accordingly. It never mutates a session in place; every outcome goes
// through session.Store.Transition.
func (s *Server) runCallback(ctx context.Context, st *session.State, code string) error {
	result, err := s.oidc.ExchangeCode(ctx, code, st.PKCEVerifier)
	if err != nil {
		return err
	}

	claims, err := s.oidc.VerifyIDToken(ctx, result.IDToken, st.Nonce)
	if err != nil {
		return err
	}

	groups := claims.Groups
	if len(groups) == 0 && result.AccessToken != "" {
		userinfo, uiErr := s.oidc.FetchUserinfo(ctx, result.AccessToken)
		if uiErr == nil {
			groups = userinfo.Groups
		}
	}

	candidates, err := team.Resolve(s.teams, groups)
	if err != nil {
		return err
	}

	user := session.User{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Groups:      groups,
	}

	if len(candidates) == 1 {
		_, err = s.sessions.Transition(st.SessionID, []session.Status{session.StatusPendingCallback}, session.StatusReadyForExchange, func(rec *session.State) {
			rec.User = user
			rec.CandidateTeams = candidates
			rec.SelectedTeam = candidates[0]
			rec.ExpiresAt = time.Now().Add(s.exchangeTTL)
		})
		return err
	}

	_, err = s.sessions.Transition(st.SessionID, []session.Status{session.StatusPendingCallback}, session.StatusAwaitingTeamSelect, func(rec *session.State) {
		rec.User = user
		rec.CandidateTeams = candidates
	})
	return err
}

func (s *Server) handleSelectTeamGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	st, err := s.sessions.Get(sessionID)
	if err != nil {
		writeError(w, brokererrors.NewSessionNotFoundError("unknown session", err))
		return
	}
	if st.Status != session.StatusAwaitingTeamSelect {
		writeError(w, brokererrors.NewSessionNotReadyError("session is not awaiting team selection", nil))
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	renderHTML(w, selectTeamTemplate, selectTeamPageData{SessionID: st.SessionID, Teams: st.CandidateTeams})
}

func (s *Server) handleSelectTeamPost(w http.ResponseWriter, r *http.Request) {
	req, err := parseSelectTeamRequest(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	st, err := s.sessions.Get(req.SessionID)
	if err != nil {
		writeError(w, brokererrors.NewSessionNotFoundError("unknown session", err))
		return
	}

	if !containsString(st.CandidateTeams, req.Team) {
		writeError(w, brokererrors.NewInvalidTeamSelectionError("team is not among the session's candidate teams", nil))
		return
	}

	final, err := s.sessions.Transition(st.SessionID, []session.Status{session.StatusAwaitingTeamSelect}, session.StatusReadyForExchange, func(rec *session.State) {
		rec.SelectedTeam = req.Team
		rec.ExpiresAt = time.Now().Add(s.exchangeTTL)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	renderHTML(w, callbackTemplate, callbackPageData{SessionID: final.SessionID, Team: final.SelectedTeam})
}

func parseSelectTeamRequest(r *http.Request) (selectTeamRequest, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req selectTeamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return selectTeamRequest{}, err
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return selectTeamRequest{}, err
	}
	return selectTeamRequest{SessionID: r.FormValue("session_id"), Team: r.FormValue("team")}, nil
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeBadRequest(w, "session_id is required")
		return
	}
	if err := validateExchangeRequest(req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	claimed, err := s.sessions.BeginExchange(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, mintErr := s.mintChildToken(r.Context(), claimed, req)
	if mintErr != nil {
		s.sessions.Fail(req.SessionID)
		writeError(w, mintErr)
		return
	}

	if _, err := s.sessions.CompleteExchange(req.SessionID, nil); err != nil {
		// The token was already minted; a late failure to flip this
		// session's bookkeeping status does not roll back the Vault-side
		// mint.
		logger.Warnw("failed to finalize exchanged session", "session_id", req.SessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

// mintChildToken mints a broker JWT scoped to claimed.SelectedTeam,
// authenticates to Vault as that team, then mints the bounded child
// token. claimed.SelectedTeam is the only value threaded into both the
// JWT's sub and the Vault JWT role name.
func (s *Server) mintChildToken(ctx context.Context, claimed *session.State, req exchangeRequest) (*exchangeResponse, error) {
	team := claimed.SelectedTeam
	entry, ok := s.teams.Teams[team]
	if !ok {
		return nil, brokererrors.NewVaultRoleMissingError("no vault role configured for team "+team, nil)
	}

	brokerJWT, err := s.issuer.Mint(claimed.User, team, jwtissuer.Metadata{
		Pipeline: req.Pipeline,
		Repo:     req.Repo,
		Target:   req.Target,
		RunID:    req.RunID,
	})
	if err != nil {
		return nil, brokererrors.NewInternalError("failed to mint broker jwt", err)
	}

	parent, err := s.vault.AuthenticateAsTeam(ctx, team, brokerJWT)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"team": team, "user": claimed.User.Email}
	if claimed.User.DisplayName != "" {
		metadata["name"] = claimed.User.DisplayName
	}
	if req.Pipeline != "" {
		metadata["pipeline"] = req.Pipeline
	}
	if req.Repo != "" {
		metadata["repo"] = req.Repo
	}
	if req.Target != "" {
		metadata["target"] = req.Target
	}
	if req.RunID != "" {
		metadata["run_id"] = req.RunID
	}

	child, err := s.vault.CreateChildToken(ctx, parent, vaultclient.ChildTokenRequest{
		TokenRole: entry.TokenRole,
		Metadata:  metadata,
		TTL:       time.Duration(entry.TTLDefaultSecs) * time.Second,
		Uses:      entry.Uses,
	})
	if err != nil {
		return nil, err
	}

	return &exchangeResponse{
		Token:         child.Token,
		TTL:           child.TTLSeconds,
		UsesRemaining: child.UsesRemaining,
		Policies:      child.Policies,
		Metadata:      metadata,
	}, nil
}
