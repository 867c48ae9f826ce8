// Package bootstrap provides the default builder.Requester
// implementation, resolving room and server info through Bilibili's
// public live HTTP API.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bililive-go/bililive/bilierr"
)

const (
	roomInitURL  = "https://api.live.bilibili.com/room/v1/Room/room_init?id=%d"
	danmuInfoURL = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo?id=%d"

	defaultWSSHost = "broadcastlv.chat.bilibili.com"
	defaultWSSPort = 443

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Requester is the default net/http-backed builder.Requester. Cookies
// are optional; an authenticated session receives the same server
// list but lets the caller also use package send.
type Requester struct {
	HTTPClient *http.Client
	Cookie     string
}

// NewRequester returns a Requester with a sane default HTTP client.
func NewRequester() *Requester {
	return &Requester{HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

// ResolveRoomID maps a (possibly short) room ID to the real room ID
// the danmaku broker expects in the room-enter handshake.
func (r *Requester) ResolveRoomID(ctx context.Context, roomID uint64) (uint64, error) {
	url := fmt.Sprintf(roomInitURL, roomID)
	body, err := r.get(ctx, url)
	if err != nil {
		return 0, err
	}

	var result struct {
		Code int `json:"code"`
		Data struct {
			RoomID uint64 `json:"room_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, bilierr.NewParseError("decode room_init response", err)
	}
	if result.Code != 0 {
		return 0, fmt.Errorf("room_init: code %d (room %d may not exist)", result.Code, roomID)
	}
	return result.Data.RoomID, nil
}

// ResolveServers fetches the auth token and broadcast server list for
// roomID (the real room ID, as returned by ResolveRoomID).
func (r *Requester) ResolveServers(ctx context.Context, roomID uint64) (string, []string, error) {
	url := fmt.Sprintf(danmuInfoURL, roomID)
	body, err := r.get(ctx, url)
	if err != nil {
		return "", nil, err
	}

	var result struct {
		Code int `json:"code"`
		Data struct {
			Token    string `json:"token"`
			HostList []struct {
				Host    string `json:"host"`
				WSSPort int    `json:"wss_port"`
			} `json:"host_list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", nil, bilierr.NewParseError("decode getDanmuInfo response", err)
	}
	if result.Code != 0 {
		return "", nil, fmt.Errorf("getDanmuInfo: code %d", result.Code)
	}

	servers := make([]string, 0, len(result.Data.HostList))
	for _, h := range result.Data.HostList {
		servers = append(servers, fmt.Sprintf("wss://%s:%d/sub", h.Host, h.WSSPort))
	}
	if len(servers) == 0 {
		servers = append(servers, fmt.Sprintf("wss://%s:%d/sub", defaultWSSHost, defaultWSSPort))
	}
	return result.Data.Token, servers, nil
}

func (r *Requester) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://live.bilibili.com/")
	req.Header.Set("Origin", "https://live.bilibili.com")
	if r.Cookie != "" {
		req.Header.Set("Cookie", r.Cookie)
	}

	hc := r.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, bilierr.NewIOError("http request "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, bilierr.NewIOError("http request "+url, fmt.Errorf("status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}
