// Package send implements the danmaku chat-send HTTP API. It is
// independent of the binary packet stream in package stream — sending
// a chat message and receiving the packet stream are separate
// concerns on the live site's own API surface.
package send

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bililive-go/bililive/bilierr"
)

const sendDanmakuURL = "https://api.live.bilibili.com/msg/send"

const (
	defaultMaxLength = 20
	defaultCooldown  = 5 * time.Second
)

// Mode controls how a sent danmaku is displayed in the room.
type Mode int

const (
	ModeScroll Mode = 1
	ModeBottom Mode = 4
	ModeTop    Mode = 5
)

// APIError reports a non-zero response code from the send endpoint.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili send error %d: %s", e.Code, e.Message)
}

// Sender sends danmaku chat messages. It is safe for concurrent use.
type Sender struct {
	sessdata   string
	biliJCT    string
	maxLength  int
	cooldown   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	lastSend sync.Map // roomID uint64 -> time.Time
}

// Option configures a Sender.
type Option func(*Sender)

// WithCookie sets the SESSDATA and bili_jct cookies; both are
// required before Send will succeed, with bili_jct doubling as the
// CSRF token the endpoint expects.
func WithCookie(sessdata, biliJCT string) Option {
	return func(s *Sender) {
		s.sessdata = sessdata
		s.biliJCT = biliJCT
	}
}

// WithMaxLength sets the maximum rune length per message before it is
// split into multiple chunked sends. Default 20.
func WithMaxLength(n int) Option {
	return func(s *Sender) { s.maxLength = n }
}

// WithCooldown sets the minimum interval between sends to the same
// room. Default 5s.
func WithCooldown(d time.Duration) Option {
	return func(s *Sender) { s.cooldown = d }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Sender) { s.httpClient = hc }
}

// WithLogger overrides the default slog.Default() logger used to
// report rate-limit waits and successful sends.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// New creates a Sender.
func New(opts ...Option) *Sender {
	s := &Sender{maxLength: defaultMaxLength, cooldown: defaultCooldown, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return s
}

// Send sends msg to roomID in the default scroll mode, auto-splitting
// and rate-limiting as configured.
func (s *Sender) Send(ctx context.Context, roomID uint64, msg string) error {
	return s.SendWithMode(ctx, roomID, msg, ModeScroll)
}

// SendWithMode sends msg to roomID using the given display mode.
func (s *Sender) SendWithMode(ctx context.Context, roomID uint64, msg string, mode Mode) error {
	if s.sessdata == "" || s.biliJCT == "" {
		return bilierr.NewIOError("send danmaku", fmt.Errorf("cookie required: call WithCookie before sending"))
	}

	chunks := splitMessage(msg, s.maxLength)
	for i, chunk := range chunks {
		if err := s.waitCooldown(ctx, roomID); err != nil {
			return err
		}
		if err := s.sendOne(ctx, roomID, chunk, mode); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (s *Sender) waitCooldown(ctx context.Context, roomID uint64) error {
	now := time.Now()
	if v, ok := s.lastSend.Load(roomID); ok {
		last := v.(time.Time)
		wait := s.cooldown - now.Sub(last)
		if wait > 0 {
			s.logger.Debug("rate limit wait", "room", roomID, "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil
}

func (s *Sender) sendOne(ctx context.Context, roomID uint64, msg string, mode Mode) error {
	form := url.Values{
		"bubble":     {"0"},
		"msg":        {msg},
		"color":      {"16777215"},
		"mode":       {strconv.Itoa(int(mode))},
		"fontsize":   {"25"},
		"rnd":        {strconv.FormatInt(time.Now().Unix(), 10)},
		"roomid":     {strconv.FormatUint(roomID, 10)},
		"csrf":       {s.biliJCT},
		"csrf_token": {s.biliJCT},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendDanmakuURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", fmt.Sprintf("SESSDATA=%s; bili_jct=%s", s.sessdata, s.biliJCT))
	req.Header.Set("Referer", "https://live.bilibili.com/")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return bilierr.NewIOError("send request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return bilierr.NewIOError("read send response", err)
	}

	var result struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return bilierr.NewParseError("decode send response", err)
	}

	// Record send time even on API-level failure, so a rejected
	// message doesn't let the next one bypass the cooldown.
	s.lastSend.Store(roomID, time.Now())

	if result.Code != 0 {
		msg := result.Message
		if msg == "" {
			msg = result.Msg
		}
		return &APIError{Code: result.Code, Message: msg}
	}
	s.logger.Debug("danmaku sent", "room", roomID, "msg", msg)
	return nil
}

func splitMessage(msg string, maxLen int) []string {
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return []string{msg}
	}
	var chunks []string
	for len(runes) > 0 {
		end := maxLen
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[:end]))
		runes = runes[end:]
	}
	return chunks
}
