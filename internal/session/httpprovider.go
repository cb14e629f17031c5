package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider talks to a media server exposing a JSON-over-HTTPS control
// API. Every request carries a freshly minted access token scoped to the
// room it touches. Leg progress arrives out-of-band on the webhook receiver
// and is surfaced through the shared Hub.
type HTTPProvider struct {
	baseURL string
	tokens  *TokenManager
	hub     *Hub
	client  *http.Client
	clock   func() time.Time
}

func NewHTTPProvider(baseURL string, tokens *TokenManager, hub *Hub) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		hub:     hub,
		client:  &http.Client{Timeout: 30 * time.Second},
		clock:   time.Now,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return p.do(ctx, http.MethodGet, "/v1/health", RoomGrant{}, nil, &out)
}

func (p *HTTPProvider) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	var room Room
	grant := RoomGrant{Room: req.Name, RoomCreate: true}
	if err := p.do(ctx, http.MethodPost, "/v1/rooms", grant, req, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

func (p *HTTPProvider) DeleteRoom(ctx context.Context, roomName string) error {
	grant := RoomGrant{Room: roomName, RoomAdmin: true}
	return p.do(ctx, http.MethodDelete, "/v1/rooms/"+roomName, grant, nil, nil)
}

func (p *HTTPProvider) Dial(ctx context.Context, req DialRequest) (LegInfo, error) {
	var leg LegInfo
	grant := RoomGrant{Room: req.RoomName, RoomAdmin: true, CanDial: true}
	if err := p.do(ctx, http.MethodPost, "/v1/sip/participants", grant, req, &leg); err != nil {
		return LegInfo{}, err
	}
	if leg.Status == "" {
		leg.Status = LegDialing
	}
	return leg, nil
}

func (p *HTTPProvider) LegStatus(ctx context.Context, legID string) (LegStatus, error) {
	var out struct {
		Status LegStatus `json:"status"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/legs/"+legID, RoomGrant{RoomAdmin: true}, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (p *HTTPProvider) SetHold(ctx context.Context, legID string, hold bool) error {
	body := struct {
		Hold bool `json:"hold"`
	}{Hold: hold}
	return p.do(ctx, http.MethodPost, "/v1/legs/"+legID+"/hold", RoomGrant{RoomAdmin: true}, body, nil)
}

func (p *HTTPProvider) Merge(ctx context.Context, roomA, roomB string) error {
	body := struct {
		FromRoom string `json:"from_room"`
	}{FromRoom: roomB}
	grant := RoomGrant{Room: roomA, RoomAdmin: true}
	err := p.do(ctx, http.MethodPost, "/v1/rooms/"+roomA+"/merge", grant, body, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMergeFailure, err)
	}
	return nil
}

func (p *HTTPProvider) Hangup(ctx context.Context, legID string) error {
	return p.do(ctx, http.MethodPost, "/v1/legs/"+legID+"/hangup", RoomGrant{RoomAdmin: true}, nil, nil)
}

func (p *HTTPProvider) LegEvents(ctx context.Context, legID string) (<-chan LegEvent, error) {
	if p.hub == nil {
		return nil, fmt.Errorf("session: event hub not configured")
	}
	return p.hub.Subscribe(ctx, legID), nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, grant RoomGrant, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	tok, err := p.tokens.AccessToken(p.clock(), grant)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrLegGone, strings.TrimSpace(string(detail)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(detail)))
	case method == http.MethodPost && strings.HasSuffix(path, "/sip/participants"):
		return fmt.Errorf("%w: status %d: %s", ErrDialFailure, resp.StatusCode, strings.TrimSpace(string(detail)))
	default:
		return fmt.Errorf("session: %s %s failed: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
}
