// Package homeassistant provides clients for the Home Assistant API:
// a REST client for states, registry and service calls, and a
// WebSocket client for the live state_changed event stream.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmfaria/rssigrid/internal/httpkit"
	"github.com/rmfaria/rssigrid/internal/rename"
)

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Home Assistant client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
		logger: logger,
	}
}

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// EntityRegistryEntry represents an entity from the registry. The
// DeviceID field is the grouping key that pairs signal entities with
// their device trackers.
type EntityRegistryEntry struct {
	EntityID   string `json:"entity_id"`
	Name       string `json:"name"`
	AreaID     string `json:"area_id"`
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
	DisabledBy string `json:"disabled_by"`
}

// IsDisabled reports whether the entity is disabled in Home Assistant.
func (e EntityRegistryEntry) IsDisabled() bool {
	return e.DisabledBy != ""
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status struct {
		Message string `json:"message"`
	}
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetStates retrieves all entity states.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetEntityRegistry retrieves the entity registry.
func (c *Client) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.get(ctx, "/api/config/entity_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	return c.post(ctx, path, data, nil)
}

// FireEvent fires a custom event on the Home Assistant event bus.
func (c *Client) FireEvent(ctx context.Context, eventType string, data map[string]any) error {
	return c.post(ctx, "/api/events/"+eventType, data, nil)
}

// UpdateRegistryName renames an entity through the entity registry
// REST endpoint.
func (c *Client) UpdateRegistryName(ctx context.Context, entityID, name string) error {
	return c.post(ctx, "/api/config/entity_registry/"+entityID, map[string]any{
		"name": name,
	}, nil)
}

// RenameStrategies returns the ordered rename fallback chain: the
// update_entity service, the registry REST endpoint, then the legacy
// customization service. Which mechanism works depends on the HA
// version and the entity's integration.
func (c *Client) RenameStrategies() []rename.Strategy {
	return []rename.Strategy{
		{
			Name: "update_entity service",
			Apply: func(ctx context.Context, entityID, newName string) error {
				return c.CallService(ctx, "homeassistant", "update_entity", map[string]any{
					"entity_id": entityID,
					"name":      newName,
				})
			},
		},
		{
			Name: "entity registry",
			Apply: func(ctx context.Context, entityID, newName string) error {
				return c.UpdateRegistryName(ctx, entityID, newName)
			},
		},
		{
			Name: "entity customization",
			Apply: func(ctx context.Context, entityID, newName string) error {
				return c.CallService(ctx, "homeassistant", "set_entity_customization", map[string]any{
					"entity_id":     entityID,
					"friendly_name": newName,
				})
			},
		},
	}
}

// ReloadConfigEntry reloads the integration owning the given config
// entry. Used as the fallback sync path when no direct controller
// connection is configured or the controller is unreachable.
func (c *Client) ReloadConfigEntry(ctx context.Context, entryID string) error {
	return c.CallService(ctx, "homeassistant", "reload_config_entry", map[string]any{
		"entry_id": entryID,
	})
}

// ReloadIntegration looks up the config entry for the given integration
// domain and reloads it. Returns an error when no entry exists.
func (c *Client) ReloadIntegration(ctx context.Context, domain string) error {
	var entries []struct {
		EntryID string `json:"entry_id"`
		Domain  string `json:"domain"`
	}
	if err := c.get(ctx, "/api/config/config_entries/entry?domain="+domain, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no config entry for integration %q", domain)
	}
	return c.ReloadConfigEntry(ctx, entries[0].EntryID)
}

// get performs a GET request to the HA API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request to the HA API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
