// Package display manages RDP connections on the Apache Guacamole
// gateway that streams the remote desktop into the clinician's browser.
// All calls go through Guacamole's REST API; no direct access to its
// database schema.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/imagedesk/imagedesk/api/pkg/config"
	"github.com/imagedesk/imagedesk/api/pkg/system"
)

//go:generate mockgen -source $GOFILE -destination guacamole_mock.go -package $GOPACKAGE

// Gateway is what the orchestrator depends on.
type Gateway interface {
	CreateConnection(ctx context.Context, name, rdpHost string, rdpPort int, rdpUser, rdpPassword string) (string, error)
	DeleteConnection(ctx context.Context, connectionID string) error
	ClientURL(ctx context.Context, connectionID string) (string, error)
}

type GuacamoleClient struct {
	cfg        config.Guacamole
	httpClient *retryablehttp.Client

	mu         sync.Mutex
	adminToken string
}

func NewGuacamoleClient(cfg config.Guacamole) *GuacamoleClient {
	// Guacamole's REST calls are idempotent so transient failures can
	// be retried, unlike the execution channel.
	return &GuacamoleClient{
		cfg:        cfg,
		httpClient: system.NewRetryClient(3, true),
	}
}

type tokenResponse struct {
	AuthToken string `json:"authToken"`
}

type connectionResponse struct {
	Identifier string `json:"identifier"`
}

func (c *GuacamoleClient) getAdminToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.adminToken != "" {
		return c.adminToken, nil
	}

	form := url.Values{}
	form.Set("username", c.cfg.AdminUser)
	form.Set("password", c.cfg.AdminPassword)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/api/tokens", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to authenticate with guacamole: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("guacamole auth returned status %d", resp.StatusCode)
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.adminToken = result.AuthToken
	return c.adminToken, nil
}

// CreateConnection registers an RDP connection with visual effects
// disabled; the imaging application does not need them and they cost
// bandwidth on the stream.
func (c *GuacamoleClient) CreateConnection(ctx context.Context, name, rdpHost string, rdpPort int, rdpUser, rdpPassword string) (string, error) {
	token, err := c.getAdminToken(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"parentIdentifier": "ROOT",
		"name":             name,
		"protocol":         "rdp",
		"parameters": map[string]string{
			"hostname":                   rdpHost,
			"port":                       strconv.Itoa(rdpPort),
			"username":                   rdpUser,
			"password":                   rdpPassword,
			"security":                   "rdp",
			"ignore-cert":                "true",
			"enable-wallpaper":           "false",
			"enable-theming":             "false",
			"enable-font-smoothing":      "false",
			"enable-full-window-drag":    "false",
			"enable-desktop-composition": "false",
			"enable-menu-animations":     "false",
		},
		"attributes": map[string]string{},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal connection: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.URL+"/api/session/data/mysql/connections", body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Guacamole-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create guacamole connection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// admin token expired, drop it so the next call re-authenticates
		c.resetToken()
		return "", fmt.Errorf("guacamole token rejected (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("guacamole returned status %d", resp.StatusCode)
	}

	var result connectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode connection response: %w", err)
	}
	return result.Identifier, nil
}

func (c *GuacamoleClient) DeleteConnection(ctx context.Context, connectionID string) error {
	token, err := c.getAdminToken(ctx)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/api/session/data/mysql/connections/%s", c.cfg.URL, connectionID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Guacamole-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete guacamole connection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.resetToken()
		return fmt.Errorf("guacamole token rejected (status %d)", resp.StatusCode)
	}
	// 404 is fine, the connection is already gone
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("guacamole returned status %d", resp.StatusCode)
	}
	return nil
}

// ClientURL builds the token-carrying URL a browser embeds in an
// iframe to reach the streamed desktop.
func (c *GuacamoleClient) ClientURL(ctx context.Context, connectionID string) (string, error) {
	token, err := c.getAdminToken(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/#/client/%s?token=%s", c.cfg.URL, connectionID, token), nil
}

func (c *GuacamoleClient) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adminToken = ""
}

var _ Gateway = (*GuacamoleClient)(nil)
