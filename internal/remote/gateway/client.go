// Package gateway implements remote.Client against an instagrapi-rest style
// HTTP gateway. Every call is a form POST carrying the session id.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"likebot/internal/remote"
	logx "likebot/pkg/logx"
)

const maxBody = 8 << 20

type Options struct {
	BaseURL string
	Timeout time.Duration
	// MaxRPS caps requests per second across every session of this client. 0 disables.
	MaxRPS float64
	HTTP   *http.Client
	Log    logx.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

var _ remote.Client = (*Client)(nil)

func New(opt Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil || base == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", opt.BaseURL)
	}
	hc := opt.HTTP
	if hc == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	var lim *rate.Limiter
	if opt.MaxRPS > 0 {
		burst := int(opt.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opt.MaxRPS), burst)
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{base: base, http: hc, limiter: lim, log: log.With(logx.String("comp", "gateway"))}, nil
}

// blob is the Export format.
type blob struct {
	SessionID string `json:"sessionid"`
	Username  string `json:"username"`
	UserID    string `json:"user_id,omitempty"`
}

func (c *Client) Login(ctx context.Context, username, password, code string) (remote.Session, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	if code = strings.TrimSpace(code); code != "" {
		form.Set("verification_code", code)
	}
	var sid string
	if err := c.post(ctx, "/auth/login", form, &sid); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sid) == "" {
		return nil, remote.Errorf(remote.InvalidCredentials, "login", "gateway returned an empty session id")
	}
	return c.session(blob{SessionID: sid, Username: username}), nil
}

func (c *Client) Restore(ctx context.Context, raw []byte) (remote.Session, error) {
	var b blob
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, remote.E(remote.AuthRequired, "restore", err)
	}
	if b.SessionID == "" {
		return nil, remote.Errorf(remote.AuthRequired, "restore", "empty session id")
	}
	s := c.session(b)
	// the restored session must still be accepted upstream
	if _, err := s.Self(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) session(b blob) *Session {
	return &Session{c: c, b: b, pace: newPacer()}
}

// post sends a form and decodes the JSON response into out (may be nil).
func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	op := strings.TrimPrefix(path, "/")
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return remote.E(remote.Generic, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return remote.E(remote.Generic, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return remote.E(remote.Generic, op, err)
	}
	c.log.Trace("gateway call", logx.String("op", op), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(op, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return remote.E(remote.Generic, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

// Session is a gateway-backed remote.Session.
type Session struct {
	c    *Client
	pace *pacer

	mu sync.Mutex
	b  blob
}

var _ remote.Session = (*Session)(nil)

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Username
}

func (s *Session) SetDelayRange(lo, hi time.Duration) { s.pace.set(lo, hi) }

func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.b)
}

func (s *Session) form(kv ...string) url.Values {
	s.mu.Lock()
	v := url.Values{"sessionid": {s.b.SessionID}}
	s.mu.Unlock()
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// call paces, then posts.
func (s *Session) call(ctx context.Context, path string, form url.Values, out any) error {
	if err := s.pace.wait(ctx); err != nil {
		return err
	}
	return s.c.post(ctx, path, form, out)
}

func (s *Session) Self(ctx context.Context) (remote.User, error) {
	s.mu.Lock()
	b := s.b
	s.mu.Unlock()
	if b.UserID != "" {
		return remote.User{ID: b.UserID, Username: b.Username}, nil
	}
	var u userDTO
	if err := s.call(ctx, "/user/info_by_username", s.form("username", b.Username), &u); err != nil {
		return remote.User{}, err
	}
	self := u.user()
	s.mu.Lock()
	s.b.UserID = self.ID
	s.mu.Unlock()
	return self, nil
}

func (s *Session) ResolvePost(ctx context.Context, link string) (string, error) {
	var pk flexID
	if err := s.call(ctx, "/media/pk_from_url", s.form("url", link), &pk); err != nil {
		return "", err
	}
	if pk == "" {
		return "", remote.Errorf(remote.NotFound, "media/pk_from_url", "no post for %s", link)
	}
	return string(pk), nil
}

func (s *Session) PostLikers(ctx context.Context, postID string) ([]remote.User, error) {
	var raw []userDTO
	if err := s.call(ctx, "/media/likers", s.form("media_id", postID), &raw); err != nil {
		return nil, err
	}
	out := make([]remote.User, 0, len(raw))
	for _, u := range raw {
		if u.IsPrivate == nil {
			// short records omit privacy; fetch the full profile
			full, err := s.userInfo(ctx, string(u.PK))
			if err != nil {
				return nil, err
			}
			u.IsPrivate = full.IsPrivate
		}
		out = append(out, u.user())
	}
	return out, nil
}

func (s *Session) userInfo(ctx context.Context, id string) (userDTO, error) {
	var u userDTO
	err := s.call(ctx, "/user/info", s.form("user_id", id), &u)
	return u, err
}

func (s *Session) Following(ctx context.Context, userID string, limit int) ([]remote.User, error) {
	if limit < 0 {
		limit = 0
	}
	var raw json.RawMessage
	if err := s.call(ctx, "/user/following", s.form("user_id", userID, "amount", strconv.Itoa(limit)), &raw); err != nil {
		return nil, err
	}
	users, err := decodeUsers(raw)
	if err != nil {
		return nil, remote.E(remote.Generic, "user/following", err)
	}
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *Session) RecentPosts(ctx context.Context, userID string, count int) ([]remote.Item, error) {
	var raw []mediaDTO
	if err := s.call(ctx, "/user/medias", s.form("user_id", userID, "amount", strconv.Itoa(count)), &raw); err != nil {
		return nil, err
	}
	out := make([]remote.Item, 0, len(raw))
	for _, m := range raw {
		id := m.ID
		if id == "" {
			id = string(m.PK)
		}
		out = append(out, remote.Item{ID: id, AlreadyLiked: m.HasLiked})
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (s *Session) Like(ctx context.Context, itemID string) error {
	var ok bool
	if err := s.call(ctx, "/media/like", s.form("media_id", itemID), &ok); err != nil {
		return err
	}
	if !ok {
		return remote.Errorf(remote.Generic, "media/like", "like of %s was not applied", itemID)
	}
	return nil
}
