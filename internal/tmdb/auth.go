package tmdb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

type sessionFile struct {
	SessionID string `json:"session_id"`
}

type tokenResponse struct {
	Success      bool   `json:"success"`
	RequestToken string `json:"request_token"`
}

type sessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// authenticate returns a TMDB session ID, reusing the persisted one when
// present. A fresh session needs the user to approve the request token in
// a browser; the flow blocks on stdin until they confirm.
func (s *service) authenticate(ctx context.Context) (string, error) {
	if id := s.loadSession(); id != "" {
		s.log.Debug().Msg("reusing persisted TMDB session")
		return id, nil
	}

	var token tokenResponse
	if err := s.get(ctx, "/authentication/token/new", nil, &token); err != nil {
		return "", errors.Wrap(err, "failed to create request token")
	}
	if token.RequestToken == "" {
		return "", errors.New("TMDB returned an empty request token")
	}

	fmt.Fprintf(os.Stderr, "\nAuthorize this application at:\n  https://www.themoviedb.org/authenticate/%s\n", token.RequestToken)
	fmt.Fprint(os.Stderr, "Press Enter once approved... ")
	s.waitForApproval()

	var session sessionResponse
	params := map[string]string{"request_token": token.RequestToken}
	if err := s.get(ctx, "/authentication/session/new", params, &session); err != nil {
		return "", errors.Wrap(err, "failed to create session")
	}
	if session.SessionID == "" {
		return "", errors.New("TMDB returned an empty session ID")
	}

	if err := s.saveSession(session.SessionID); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist TMDB session")
	}

	return session.SessionID, nil
}

func (s *service) loadSession() string {
	body, err := os.ReadFile(s.sessionPath)
	if err != nil {
		return ""
	}

	var sf sessionFile
	if err := json.Unmarshal(body, &sf); err != nil {
		s.log.Warn().Err(err).Str("path", s.sessionPath).Msg("unreadable TMDB session file, re-authenticating")
		return ""
	}
	return sf.SessionID
}

func (s *service) saveSession(id string) error {
	body, err := json.MarshalIndent(sessionFile{SessionID: id}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}
	// Session grants write access to the account; keep it owner-only.
	return os.WriteFile(s.sessionPath, body, 0o600)
}

func defaultWaitForApproval() {
	bufio.NewReader(os.Stdin).ReadString('\n')
}
