// Package execution is the outbound client for the command-execution
// channel to the remote imaging hosts: an automation agent that can
// create a desktop session for a host user, launch the imaging
// application with a patient data path inside it, and tear a session
// down. Every call carries a bounded timeout; a timed-out call is
// treated as failed and never retried silently because a second create
// may produce a duplicate remote session.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnreachable means the execution channel itself could not be
// reached: host down, connection refused, credential rejected.
var ErrUnreachable = errors.New("execution channel unreachable")

// ErrRejected means the remote host executed the command but reported
// failure.
var ErrRejected = errors.New("remote host rejected command")

//go:generate mockgen -source $GOFILE -destination client_mock.go -package $GOPACKAGE

// Client is the contract the orchestrator depends on. The three
// commands are idempotent by contract on the agent side only to the
// extent documented there; the caller treats them as not idempotent.
type Client interface {
	// CreateRemoteSession provisions a desktop session for the host
	// user with the patient's context and returns an opaque handle.
	CreateRemoteSession(ctx context.Context, hostUser, patientID string) (string, error)
	// LaunchApplication starts the imaging application inside the
	// session, pointed at the patient data path, returning a process ref.
	LaunchApplication(ctx context.Context, remoteHandle, dataPath string) (string, error)
	// CleanupRemoteSession logs the session off and frees host resources.
	CleanupRemoteSession(ctx context.Context, remoteHandle string) error
	// Ping reports whether the agent is reachable at all.
	Ping(ctx context.Context) error
}

// AgentClient talks JSON over HTTP to the host automation agent.
type AgentClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAgentClient(baseURL, token string, requestTimeout time.Duration) *AgentClient {
	return &AgentClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type createSessionRequest struct {
	HostUser  string `json:"host_user"`
	PatientID string `json:"patient_id"`
}

type createSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

type launchRequest struct {
	SessionID string `json:"session_id"`
	DataPath  string `json:"data_path"`
}

type launchResponse struct {
	Success   bool   `json:"success"`
	ProcessID string `json:"process_id"`
	Error     string `json:"error"`
}

type cleanupRequest struct {
	SessionID string `json:"session_id"`
}

type genericResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *AgentClient) CreateRemoteSession(ctx context.Context, hostUser, patientID string) (string, error) {
	var result createSessionResponse
	err := c.post(ctx, "/api/v1/sessions/create", &createSessionRequest{
		HostUser:  hostUser,
		PatientID: patientID,
	}, &result)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("create session failed: %s: %w", result.Error, ErrRejected)
	}
	return result.SessionID, nil
}

func (c *AgentClient) LaunchApplication(ctx context.Context, remoteHandle, dataPath string) (string, error) {
	var result launchResponse
	err := c.post(ctx, "/api/v1/sessions/launch", &launchRequest{
		SessionID: remoteHandle,
		DataPath:  dataPath,
	}, &result)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("launch failed: %s: %w", result.Error, ErrRejected)
	}
	return result.ProcessID, nil
}

func (c *AgentClient) CleanupRemoteSession(ctx context.Context, remoteHandle string) error {
	var result genericResponse
	err := c.post(ctx, "/api/v1/sessions/cleanup", &cleanupRequest{
		SessionID: remoteHandle,
	}, &result)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("cleanup failed: %s: %w", result.Error, ErrRejected)
	}
	return nil
}

func (c *AgentClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable: %s: %w", err.Error(), ErrUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent health returned status %d: %w", resp.StatusCode, ErrUnreachable)
	}
	return nil
}

func (c *AgentClient) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport failure or timeout, the channel itself is down
		return fmt.Errorf("agent unreachable: %s: %w", err.Error(), ErrUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("agent rejected credentials (status %d): %w", resp.StatusCode, ErrUnreachable)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent returned status %d: %s: %w", resp.StatusCode, string(respBody), ErrRejected)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *AgentClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
