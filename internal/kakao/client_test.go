package kakao

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *observer.ObservedLogs) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	core, logs := observer.New(zap.DebugLevel)
	c := NewClient(Config{
		ClientID:        "client-id",
		RedirectURI:     "http://localhost:8080/api/oauth/kakao/callback",
		AuthURL:         srv.URL + "/oauth/authorize",
		TokenURL:        srv.URL + "/oauth/token",
		InfoURL:         srv.URL + "/v2/user/me",
		MessageURL:      srv.URL + "/v2/api/talk/memo/default/send",
		LinkURL:         "http://localhost:8080",
		ConnectTimeout:  time.Second,
		ResponseTimeout: 100 * time.Millisecond,
	}, zap.New(core))
	return c, logs
}

func TestAccessToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "authCode", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"accessToken"}`))
	})

	tok, err := c.AccessToken(context.Background(), "authCode")

	require.NoError(t, err)
	assert.Equal(t, "accessToken", tok)
}

func TestAccessTokenRejected(t *testing.T) {
	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := c.AccessToken(context.Background(), "authCode")

	var ke *Error
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, CauseRemoteRejected, ke.Cause)
	assert.Equal(t, http.StatusUnauthorized, ke.StatusCode)
	assert.Contains(t, ke.Body, "invalid_grant")
	assert.Equal(t, 1, logs.FilterMessage("kakao_call_failed").Len())
}

func TestUserInfo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer accessToken", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":12345,"properties":{"nickname":"nickname"}}`))
	})

	info, err := c.UserInfo(context.Background(), "accessToken")

	require.NoError(t, err)
	assert.Equal(t, int64(12345), info.ID)
	assert.Equal(t, "nickname", info.Properties.Nickname)
}

func TestUserInfoRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
	})

	_, err := c.UserInfo(context.Background(), "accessToken")

	assert.Equal(t, CauseRemoteRejected, CauseOf(err))
}

func TestSendOrderMessage(t *testing.T) {
	orderedAt := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Bearer kakao-token", r.Header.Get("Authorization"))

		var tmpl textTemplate
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("template_object")), &tmpl))
		assert.Equal(t, "text", tmpl.ObjectType)
		assert.Contains(t, tmpl.Text, "Order #10 confirmed")
		assert.Contains(t, tmpl.Text, "happy birthday")
		assert.Equal(t, "http://localhost:8080", tmpl.Link.WebURL)

		_, _ = w.Write([]byte(`{"result_code":0}`))
	})

	err := c.SendOrderMessage(context.Background(), "kakao-token", OrderMessage{
		OrderID: 10, OptionID: 3, Quantity: 2, Message: "happy birthday", OrderedAt: orderedAt,
	})

	assert.NoError(t, err)
}

func TestSendOrderMessageFailureCauses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		cause   Cause
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"msg":"boom"}`))
			},
			cause: CauseRemoteRejected,
		},
		{
			name: "non-zero result code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"result_code":-401}`))
			},
			cause: CauseRemoteRejected,
		},
		{
			name: "unparseable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>gateway</html>`))
			},
			cause: CauseMalformedResponse,
		},
		{
			name: "slow response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(400 * time.Millisecond)
				_, _ = w.Write([]byte(`{"result_code":0}`))
			},
			cause: CauseTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, logs := newTestClient(t, tt.handler)

			err := c.SendOrderMessage(context.Background(), "kakao-token", OrderMessage{OrderID: 1, OptionID: 1, Quantity: 1})

			require.Error(t, err)
			assert.Equal(t, tt.cause, CauseOf(err))
			entries := logs.FilterMessage("kakao_call_failed").All()
			require.Len(t, entries, 1)
			assert.Equal(t, string(tt.cause), entries[0].ContextMap()["cause"])
		})
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("선물", 10) // 3 bytes per rune
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		assert.True(t, utf8.ValidString(got), "n=%d", n)
		assert.LessOrEqual(t, len(got), n)
		assert.Greater(t, len(got), n-3)
	}
	assert.Equal(t, "선", truncate(s, 4))
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestRejectedKoreanBodyIsLoggedAsValidUTF8(t *testing.T) {
	body := `{"msg":"` + strings.Repeat("잘못된 요청", 60) + `"}`
	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	})

	err := c.SendOrderMessage(context.Background(), "kakao-token", OrderMessage{OrderID: 1, OptionID: 1, Quantity: 1})
	require.Error(t, err)

	entries := logs.FilterMessage("kakao_call_failed").All()
	require.Len(t, entries, 1)
	logged, _ := entries[0].ContextMap()["body"].(string)
	assert.NotEmpty(t, logged)
	assert.LessOrEqual(t, len(logged), 512)
	assert.True(t, utf8.ValidString(logged))
}

func TestSendOrderMessageTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(Config{MessageURL: addr + "/send", ConnectTimeout: time.Second, ResponseTimeout: time.Second}, nil)

	err := c.SendOrderMessage(context.Background(), "kakao-token", OrderMessage{OrderID: 1})

	assert.Equal(t, CauseTransport, CauseOf(err))
}

func TestAuthorizeURL(t *testing.T) {
	c := NewClient(Config{
		ClientID:    "cid",
		RedirectURI: "http://localhost/cb",
		AuthURL:     "https://kauth.kakao.com/oauth/authorize",
	}, nil)

	u, err := url.Parse(c.AuthorizeURL())
	require.NoError(t, err)
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "http://localhost/cb", u.Query().Get("redirect_uri"))
}
