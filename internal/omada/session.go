package omada

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rmfaria/rssigrid/internal/httpkit"
)

// sessionTTL is how long a controller login stays valid before we
// proactively re-authenticate. The controller's own timeout is longer;
// renewing early avoids racing it.
const sessionTTL = time.Hour

// session holds the authenticated-session state: the controller ID
// discovered from /api/info, the CSRF token returned by login, and the
// login timestamp. The mutex doubles as an in-flight guard so that
// concurrent callers share one login attempt instead of stampeding
// the controller.
type session struct {
	mu      sync.Mutex
	id      string // omadacId
	token   string
	loginAt time.Time

	// now is overridable so expiry is testable; nil means time.Now.
	now func() time.Time
}

func (s *session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *session) controllerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *session) csrfToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *session) valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && s.clock().Sub(s.loginAt) < sessionTTL
}

// Invalidate discards the current session. The next request will log
// in again.
func (c *Client) Invalidate() {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	c.session.token = ""
	c.session.loginAt = time.Time{}
}

// EnsureAuthenticated logs in if there is no valid session. Safe for
// concurrent use; only one login runs at a time and late arrivals see
// the fresh session instead of logging in again.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if c.session.valid() {
		return nil
	}

	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	// Re-check under the lock: another caller may have just finished.
	if c.session.token != "" && c.session.clock().Sub(c.session.loginAt) < sessionTTL {
		return nil
	}
	return c.loginLocked(ctx)
}

// loginLocked performs the controller's two-step login. Callers must
// hold session.mu.
func (c *Client) loginLocked(ctx context.Context) error {
	// Step 1: discover the controller ID.
	id, err := c.fetchControllerID(ctx)
	if err != nil {
		return err
	}
	c.session.id = id

	// Step 2: log in under that ID.
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	url := fmt.Sprintf("%s/%s/api/v2/login", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("login failed %d: %s", resp.StatusCode, errBody)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if env.ErrorCode != 0 {
		return fmt.Errorf("login rejected %d: %s", env.ErrorCode, env.Msg)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return fmt.Errorf("decode login token: %w", err)
	}
	if result.Token == "" {
		return fmt.Errorf("login response missing token")
	}

	c.session.token = result.Token
	c.session.loginAt = c.session.clock()

	c.logger.Info("authenticated with Omada controller", "controller_id", id)
	return nil
}

// fetchControllerID queries the unauthenticated /api/info endpoint for
// the controller's omadacId, which prefixes every other API path.
func (c *Client) fetchControllerID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/info", nil)
	if err != nil {
		return "", fmt.Errorf("build info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("controller info: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return "", fmt.Errorf("controller info %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Result struct {
			OmadacID string `json:"omadacId"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode controller info: %w", err)
	}
	if info.Result.OmadacID == "" {
		return "", fmt.Errorf("controller info missing omadacId")
	}
	return info.Result.OmadacID, nil
}
