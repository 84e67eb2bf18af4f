package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/tool"
)

// MembershipAPI is the messaging-platform capability consumed by the
// membership synchronizer and the notification dispatcher.
type MembershipAPI interface {
	// AddMember puts a user into a channel directly. The Bot API cannot do
	// this for private channels, so the Telegram client always returns
	// ErrDirectAddUnsupported and callers fall back to invite links.
	AddMember(ctx context.Context, chatID, userRef string) error
	RemoveMember(ctx context.Context, chatID, userRef string) error
	CreateInviteLink(ctx context.Context, chatID string, expireAt time.Time, memberLimit int) (string, error)
	SendDirectMessage(ctx context.Context, userRef, text string) error
}

// ErrDirectAddUnsupported signals that the platform cannot add members
// directly and an invite link must be issued instead.
var ErrDirectAddUnsupported = errors.New("telegram: direct member add unsupported")

// APIError is a Bot API error response.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Retryable reports whether the call may succeed later. Rate limiting and
// server-side failures retry; 4xx rejections do not.
func (e *APIError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsRetryable classifies an error from any MembershipAPI call. Transport
// failures (timeouts, refused connections) are retryable; Bot API errors
// consult their status code.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrDirectAddUnsupported) {
		return false
	}
	// Anything else reaching here came from the HTTP transport.
	return true
}

const defaultBaseURL = "https://api.telegram.org"

// Client talks to the Telegram Bot API over HTTP. With DryRun set (or no
// bot token configured) all calls are simulated and logged, mirroring how
// staging environments run without a real bot.
type Client struct {
	httpc   *http.Client
	baseURL string
	token   string
	dryRun  bool
	log     *zap.SugaredLogger
}

func NewClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Client {
	dryRun := cfg.Telegram.DryRun || cfg.Telegram.BotToken == ""
	base := cfg.Telegram.APIBaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if dryRun {
		log.Warnw("telegram client in dry-run mode, platform calls are simulated")
	}
	return &Client{
		httpc:   &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.Telegram.BotToken,
		dryRun:  dryRun,
		log:     log,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !body.OK {
		return &APIError{Code: body.ErrorCode, Description: body.Description}
	}
	if out != nil && len(body.Result) > 0 {
		if err := json.Unmarshal(body.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) AddMember(ctx context.Context, chatID, userRef string) error {
	return ErrDirectAddUnsupported
}

// RemoveMember kicks the user via banChatMember, which also blocks an
// immediate rejoin through an old invite link. A user already gone or
// promoted to admin counts as removed.
func (c *Client) RemoveMember(ctx context.Context, chatID, userRef string) error {
	if c.dryRun {
		logctx.FromCtx(ctx, c.log).Infow("telegram_remove_member_simulated", "chat_id", chatID, "user", userRef)
		return nil
	}
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("user_id", userRef)
	err := c.call(ctx, "banChatMember", params, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Description)
		if strings.Contains(desc, "user not found") || strings.Contains(desc, "member is administrator") {
			logctx.FromCtx(ctx, c.log).Warnw("telegram_remove_member_skipped", "chat_id", chatID, "user", userRef, "reason", apiErr.Description)
			return nil
		}
	}
	return err
}

type inviteLinkResult struct {
	InviteLink string `json:"invite_link"`
}

// CreateInviteLink issues a single-use, time-limited invite link.
func (c *Client) CreateInviteLink(ctx context.Context, chatID string, expireAt time.Time, memberLimit int) (string, error) {
	if memberLimit <= 0 {
		memberLimit = 1
	}
	if c.dryRun {
		link := "https://t.me/+" + tool.GenerateUUIDV7()
		logctx.FromCtx(ctx, c.log).Infow("telegram_invite_link_simulated", "chat_id", chatID, "link", link)
		return link, nil
	}
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("member_limit", strconv.Itoa(memberLimit))
	if !expireAt.IsZero() {
		params.Set("expire_date", strconv.FormatInt(expireAt.Unix(), 10))
	}
	var res inviteLinkResult
	if err := c.call(ctx, "createChatInviteLink", params, &res); err != nil {
		return "", err
	}
	return res.InviteLink, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userRef, text string) error {
	if c.dryRun {
		logctx.FromCtx(ctx, c.log).Infow("telegram_send_dm_simulated", "user", userRef)
		return nil
	}
	params := url.Values{}
	params.Set("chat_id", userRef)
	params.Set("text", text)
	return c.call(ctx, "sendMessage", params, nil)
}

func NewMembershipAPI(c *Client) MembershipAPI { return c }

var Module = fx.Options(
	fx.Provide(NewClient),
	fx.Provide(NewMembershipAPI),
)
