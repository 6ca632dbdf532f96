// Package sign talks to the target e-signature account-management API. The
// engine only sees the Connector interface; Client is the REST
// implementation.
package sign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Connector is the narrow surface the reconciliation engine consumes. One
// connector is instantiated per configured org. All calls hit the API fresh;
// nothing is cached across calls except the group name -> id index, which is
// rebuilt on every ListGroups.
type Connector interface {
	// ListGroups returns the names of all groups in the org.
	ListGroups(ctx context.Context) ([]string, error)
	// CreateGroup creates a group and returns its id.
	CreateGroup(ctx context.Context, name string) (string, error)
	// GroupID resolves a group name (case-insensitive) to its id.
	GroupID(name string) (string, error)
	// ListUsers returns the org's users keyed by email exactly as the API
	// reports it.
	ListUsers(ctx context.Context) (map[string]User, error)
	// InsertUser creates a new user.
	InsertUser(ctx context.Context, profile Profile) error
	// UpdateUser replaces the user's profile.
	UpdateUser(ctx context.Context, userID string, profile Profile) error
	// DeactivateUser sets the user's status.
	DeactivateUser(ctx context.Context, userID string, status StatusUpdate) error
}

// ClientConfig is the per-org connector sub-configuration.
type ClientConfig struct {
	Host           string `yaml:"host"`
	IntegrationKey string `yaml:"integration_key"`
	TimeoutSeconds int    `yaml:"timeout"`
}

// Client implements Connector over the sign REST API.
type Client struct {
	baseURL string
	key     string
	http    *http.Client

	// groupID indexes lower-cased group name -> id, rebuilt by ListGroups
	// and extended by CreateGroup.
	groupID map[string]string
}

// NewClient validates the config and returns a REST connector.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sign connector: host is required")
	}
	if cfg.IntegrationKey == "" {
		return nil, fmt.Errorf("sign connector: integration_key is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.Host, "/"),
		key:     cfg.IntegrationKey,
		http:    &http.Client{Timeout: timeout},
		groupID: map[string]string{},
	}, nil
}

type groupInfo struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
}

type groupList struct {
	GroupInfoList []groupInfo `json:"groupInfoList"`
}

type userList struct {
	UserInfoList []User `json:"userInfoList"`
}

func (c *Client) ListGroups(ctx context.Context) ([]string, error) {
	var list groupList
	if err := c.call(ctx, http.MethodGet, "/groups", nil, &list); err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	c.groupID = make(map[string]string, len(list.GroupInfoList))
	names := make([]string, 0, len(list.GroupInfoList))
	for _, g := range list.GroupInfoList {
		c.groupID[strings.ToLower(g.GroupName)] = g.GroupID
		names = append(names, g.GroupName)
	}
	return names, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string) (string, error) {
	var created struct {
		GroupID string `json:"groupId"`
	}
	body := map[string]string{"groupName": name}
	if err := c.call(ctx, http.MethodPost, "/groups", body, &created); err != nil {
		return "", fmt.Errorf("creating group %q: %w", name, err)
	}
	c.groupID[strings.ToLower(name)] = created.GroupID
	return created.GroupID, nil
}

func (c *Client) GroupID(name string) (string, error) {
	id, ok := c.groupID[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown group %q", name)
	}
	return id, nil
}

func (c *Client) ListUsers(ctx context.Context) (map[string]User, error) {
	var list userList
	if err := c.call(ctx, http.MethodGet, "/users", nil, &list); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make(map[string]User, len(list.UserInfoList))
	for _, u := range list.UserInfoList {
		users[u.Email] = u
	}
	return users, nil
}

func (c *Client) InsertUser(ctx context.Context, profile Profile) error {
	if err := c.call(ctx, http.MethodPost, "/users", profile, nil); err != nil {
		return fmt.Errorf("inserting user %s: %w", profile.Email, err)
	}
	return nil
}

func (c *Client) UpdateUser(ctx context.Context, userID string, profile Profile) error {
	path := "/users/" + url.PathEscape(userID)
	if err := c.call(ctx, http.MethodPut, path, profile, nil); err != nil {
		return fmt.Errorf("updating user %s: %w", profile.Email, err)
	}
	return nil
}

func (c *Client) DeactivateUser(ctx context.Context, userID string, status StatusUpdate) error {
	path := "/users/" + url.PathEscape(userID) + "/status"
	if err := c.call(ctx, http.MethodPut, path, status, nil); err != nil {
		return fmt.Errorf("deactivating user %s: %w", userID, err)
	}
	return nil
}

// call issues one JSON request and decodes the response into out (when out is
// non-nil). Non-2xx statuses are errors carrying the response body.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
