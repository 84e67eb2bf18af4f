package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/channelgate/channelgate/pkg/config"
)

type botCall struct {
	method string
	form   map[string]string
}

func newTestClient(t *testing.T, handler func(method string, form map[string]string) (int, string)) (*Client, *[]botCall) {
	t.Helper()
	var calls []botCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		// Path is /bot<token>/<method>.
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		calls = append(calls, botCall{method: method, form: form})

		status, body := handler(method, form)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := &cfgpkg.Config{Telegram: cfgpkg.TelegramConfig{
		BotToken:   "test-token",
		APIBaseURL: srv.URL,
		DryRun:     false,
	}}
	return NewClient(cfg, zap.NewNop().Sugar()), &calls
}

func TestAddMember_AlwaysUnsupported(t *testing.T) {
	c, calls := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"ok":true}`
	})
	err := c.AddMember(context.Background(), "-100123", "42")
	assert.ErrorIs(t, err, ErrDirectAddUnsupported)
	assert.Empty(t, *calls, "no API call for an unsupported operation")
}

func TestRemoveMember_BansUser(t *testing.T) {
	c, calls := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"ok":true,"result":true}`
	})
	require.NoError(t, c.RemoveMember(context.Background(), "-100123", "42"))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "banChatMember", call.method)
	assert.Equal(t, "-100123", call.form["chat_id"])
	assert.Equal(t, "42", call.form["user_id"])
}

func TestRemoveMember_GoneOrAdminCountsAsRemoved(t *testing.T) {
	for _, desc := range []string{"Bad Request: user not found", "Bad Request: member is administrator of the chat"} {
		c, _ := newTestClient(t, func(string, map[string]string) (int, string) {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"` + desc + `"}`
		})
		assert.NoError(t, c.RemoveMember(context.Background(), "-100123", "42"), desc)
	}
}

func TestRemoveMember_OtherErrorsSurface(t *testing.T) {
	c, _ := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"chat not found"}`
	})
	err := c.RemoveMember(context.Background(), "-100123", "42")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.False(t, apiErr.Retryable())
}

func TestCreateInviteLink(t *testing.T) {
	expire := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	c, calls := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"invite_link":"https://t.me/+abc123"}}`
	})

	link, err := c.CreateInviteLink(context.Background(), "-100123", expire, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc123", link)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "createChatInviteLink", call.method)
	assert.Equal(t, "1", call.form["member_limit"], "zero limit defaults to single use")
	assert.Equal(t, "1751328000", call.form["expire_date"])
}

func TestSendDirectMessage(t *testing.T) {
	c, calls := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"ok":true}`
	})
	require.NoError(t, c.SendDirectMessage(context.Background(), "42", "hello"))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "sendMessage", call.method)
	assert.Equal(t, "42", call.form["chat_id"])
	assert.Equal(t, "hello", call.form["text"])
}

func TestDryRun_SimulatesWithoutNetwork(t *testing.T) {
	cfg := &cfgpkg.Config{Telegram: cfgpkg.TelegramConfig{DryRun: true}}
	c := NewClient(cfg, zap.NewNop().Sugar())

	assert.NoError(t, c.RemoveMember(context.Background(), "-100123", "42"))
	link, err := c.CreateInviteLink(context.Background(), "-100123", time.Now(), 1)
	assert.NoError(t, err)
	assert.NotEmpty(t, link)
	assert.NoError(t, c.SendDirectMessage(context.Background(), "42", "hi"))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{Code: 429}))
	assert.True(t, IsRetryable(&APIError{Code: 502}))
	assert.False(t, IsRetryable(&APIError{Code: 400}))
	assert.False(t, IsRetryable(ErrDirectAddUnsupported))
	assert.True(t, IsRetryable(context.DeadlineExceeded), "transport-level failures retry")
}
