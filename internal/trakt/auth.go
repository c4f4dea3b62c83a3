package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	CreatedAt    int64  `json:"created_at"`
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// authenticate returns a Trakt access token, reusing the persisted one
// when present. A fresh token goes through the device-code flow: the
// user enters a short code at trakt.tv while we poll for approval.
func (s *service) authenticate(ctx context.Context) (string, error) {
	if tok := s.loadToken(); tok != "" {
		s.log.Debug().Msg("reusing persisted Trakt token")
		return tok, nil
	}

	code, err := s.requestDeviceCode(ctx)
	if err != nil {
		return "", err
	}

	fmt.Fprintf(os.Stderr, "\nVisit %s and enter the code: %s\n", code.VerificationURL, code.UserCode)
	fmt.Fprintln(os.Stderr, "Waiting for authorization...")

	tok, err := s.pollForToken(ctx, code)
	if err != nil {
		return "", err
	}

	if err := s.saveToken(tok); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist Trakt token")
	}
	return tok.AccessToken, nil
}

func (s *service) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	body, _ := json.Marshal(map[string]string{"client_id": s.cfg.TraktClientID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/oauth/device/code", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "device code request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("device code request returned HTTP %d", resp.StatusCode)
	}

	var code deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&code); err != nil {
		return nil, errors.Wrap(err, "failed to decode device code response")
	}
	if code.DeviceCode == "" {
		return nil, errors.New("Trakt returned an empty device code")
	}
	return &code, nil
}

func (s *service) pollForToken(ctx context.Context, code *deviceCodeResponse) (*tokenFile, error) {
	interval := time.Duration(code.Interval) * time.Second
	if s.pollInterval > 0 {
		interval = s.pollInterval
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(time.Duration(code.ExpiresIn) * time.Second)
	body, _ := json.Marshal(map[string]string{
		"code":          code.DeviceCode,
		"client_id":     s.cfg.TraktClientID,
		"client_secret": s.cfg.TraktClientSecret,
	})

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/oauth/device/token", bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "token poll failed")
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var tok tokenFile
			err := json.NewDecoder(resp.Body).Decode(&tok)
			resp.Body.Close()
			if err != nil {
				return nil, errors.Wrap(err, "failed to decode token response")
			}
			if tok.AccessToken == "" {
				return nil, errors.New("Trakt returned an empty access token")
			}
			return &tok, nil
		case http.StatusBadRequest:
			// Authorization still pending, keep polling.
			resp.Body.Close()
		case http.StatusNotFound:
			resp.Body.Close()
			return nil, errors.New("invalid device code")
		case http.StatusConflict:
			resp.Body.Close()
			return nil, errors.New("device code was already used")
		case http.StatusGone:
			resp.Body.Close()
			return nil, errors.New("device code expired before approval")
		case http.StatusTeapot:
			resp.Body.Close()
			return nil, errors.New("authorization was denied")
		default:
			resp.Body.Close()
			return nil, errors.Errorf("token poll returned HTTP %d", resp.StatusCode)
		}
	}

	return nil, errors.New("device code expired before approval")
}

func (s *service) loadToken() string {
	body, err := os.ReadFile(s.tokenPath)
	if err != nil {
		return ""
	}

	var tok tokenFile
	if err := json.Unmarshal(body, &tok); err != nil {
		s.log.Warn().Err(err).Str("path", s.tokenPath).Msg("unreadable Trakt token file, re-authenticating")
		return ""
	}
	return tok.AccessToken
}

func (s *service) saveToken(tok *tokenFile) error {
	body, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal token")
	}
	// Token grants write access to the account; keep it owner-only.
	return os.WriteFile(s.tokenPath, body, 0o600)
}
