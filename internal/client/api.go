package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	httpapi "github.com/cwrk-planet/collab-service/internal/transport/http"
)

// APIClient поднимает начальное состояние комнаты по REST до подписки на
// live-события: история сообщений, буфер кода, ICE-серверы.
type APIClient struct {
	base string
	hc   *http.Client
}

func NewAPIClient(serverURL string) *APIClient {
	return &APIClient{
		base: strings.TrimRight(serverURL, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *APIClient) Messages(ctx context.Context, roomID string, limit int) (*httpapi.MessagesResponse, error) {
	var out httpapi.MessagesResponse
	url := fmt.Sprintf("%s/api/rooms/%s/messages?limit=%d", c.base, roomID, limit)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Code(ctx context.Context, roomID string) (*httpapi.CodeResponse, error) {
	var out httpapi.CodeResponse
	if err := c.getJSON(ctx, c.base+"/api/rooms/"+roomID+"/code", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) RoomUsers(ctx context.Context, roomID string) (*httpapi.RoomUsersResponse, error) {
	var out httpapi.RoomUsersResponse
	if err := c.getJSON(ctx, c.base+"/api/rooms/"+roomID+"/users", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ICEServers(ctx context.Context) (*httpapi.ICEServersResponse, error) {
	var out httpapi.ICEServersResponse
	if err := c.getJSON(ctx, c.base+"/api/ice-servers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
