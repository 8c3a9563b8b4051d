package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/ariefcatur/gift-orders/internal/logging"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type Config struct {
	ClientID        string
	RedirectURI     string
	AuthURL         string
	TokenURL        string
	InfoURL         string
	MessageURL      string
	LinkURL         string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
}

type Client struct {
	cfg  Config
	http *resty.Client
	log  *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
	rc := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.ConnectTimeout + cfg.ResponseTimeout).
		SetDisableWarn(true)

	return &Client{cfg: cfg, http: rc, log: log.With(zap.String("component", "kakao_client"))}
}

// AuthorizeURL is where the browser is sent to start a Kakao login.
func (c *Client) AuthorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	return c.cfg.AuthURL + "?" + q.Encode()
}

// AccessToken exchanges an authorization code for a Kakao access token.
func (c *Client) AccessToken(ctx context.Context, code string) (string, error) {
	const op = "token"
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":   "authorization_code",
			"client_id":    c.cfg.ClientID,
			"redirect_uri": c.cfg.RedirectURI,
			"code":         code,
		}).
		Post(c.cfg.TokenURL)
	if err := c.check(ctx, op, resp, err); err != nil {
		return "", err
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.AccessToken == "" {
		return "", c.fail(ctx, &Error{Op: op, Cause: CauseMalformedResponse, StatusCode: resp.StatusCode(), Body: string(resp.Body()), Err: err})
	}
	return body.AccessToken, nil
}

type UserInfo struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname string `json:"nickname"`
	} `json:"properties"`
}

func (c *Client) UserInfo(ctx context.Context, accessToken string) (UserInfo, error) {
	const op = "user_info"
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Get(c.cfg.InfoURL)
	if err := c.check(ctx, op, resp, err); err != nil {
		return UserInfo{}, err
	}

	var info UserInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil || info.ID == 0 {
		return UserInfo{}, c.fail(ctx, &Error{Op: op, Cause: CauseMalformedResponse, StatusCode: resp.StatusCode(), Body: string(resp.Body()), Err: err})
	}
	return info, nil
}

// OrderMessage is the content of an order confirmation sent to the buyer's own chat.
type OrderMessage struct {
	OrderID   int64
	OptionID  int64
	Quantity  int
	Message   string
	OrderedAt time.Time
}

type textTemplate struct {
	ObjectType  string `json:"object_type"`
	Text        string `json:"text"`
	Link        link   `json:"link"`
	ButtonTitle string `json:"button_title"`
}

type link struct {
	WebURL       string `json:"web_url"`
	MobileWebURL string `json:"mobile_web_url"`
}

// SendOrderMessage sends a "send to me" memo describing the order.
func (c *Client) SendOrderMessage(ctx context.Context, accessToken string, m OrderMessage) error {
	const op = "send_message"
	tmpl, err := json.Marshal(textTemplate{
		ObjectType:  "text",
		Text:        messageText(m),
		Link:        link{WebURL: c.cfg.LinkURL, MobileWebURL: c.cfg.LinkURL},
		ButtonTitle: "View order",
	})
	if err != nil {
		return fmt.Errorf("kakao %s: encode template: %w", op, err)
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetFormData(map[string]string{"template_object": string(tmpl)}).
		Post(c.cfg.MessageURL)
	if err := c.check(ctx, op, resp, err); err != nil {
		return err
	}

	var body struct {
		ResultCode *int `json:"result_code"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.ResultCode == nil {
		return c.fail(ctx, &Error{Op: op, Cause: CauseMalformedResponse, StatusCode: resp.StatusCode(), Body: string(resp.Body()), Err: err})
	}
	if *body.ResultCode != 0 {
		return c.fail(ctx, &Error{Op: op, Cause: CauseRemoteRejected, StatusCode: resp.StatusCode(), Body: string(resp.Body())})
	}

	logging.FromContextOr(ctx, c.log).Debug("kakao_message_sent",
		zap.Int64("order_id", m.OrderID),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

func messageText(m OrderMessage) string {
	text := fmt.Sprintf("Order #%d confirmed\noption %d x %d\n%s",
		m.OrderID, m.OptionID, m.Quantity, m.OrderedAt.Format("2006-01-02 15:04"))
	if m.Message != "" {
		text += "\n\n" + m.Message
	}
	return text
}

// check turns transport failures and non-2xx responses into *Error.
func (c *Client) check(ctx context.Context, op string, resp *resty.Response, err error) error {
	if err != nil {
		return c.fail(ctx, transportError(op, err))
	}
	if !resp.IsSuccess() {
		return c.fail(ctx, &Error{Op: op, Cause: CauseRemoteRejected, StatusCode: resp.StatusCode(), Body: string(resp.Body())})
	}
	return nil
}

func (c *Client) fail(ctx context.Context, e *Error) error {
	fields := []zap.Field{
		zap.String("op", e.Op),
		zap.String("cause", string(e.Cause)),
	}
	if e.StatusCode != 0 {
		fields = append(fields, zap.Int("status", e.StatusCode))
	}
	if e.Body != "" {
		fields = append(fields, zap.String("body", truncate(e.Body, 512)))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	logging.FromContextOr(ctx, c.log).Warn("kakao_call_failed", fields...)
	return e
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
