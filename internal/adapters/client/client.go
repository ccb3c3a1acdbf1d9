// Package client logs in to a board server and speaks the board socket
// protocol from the other end.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/protocol"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

// LockedOutError is returned by Login while the account is locked.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account locked, retry in %s", e.RetryAfter)
}

type Options struct {
	BaseURL  string
	Username string
	Password string

	// BackoffBase and BackoffCap bound the reconnect delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// ReadWait is how long the socket may stay silent. Server pings extend it.
	ReadWait  time.Duration
	WriteWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.ReadWait <= 0 {
		o.ReadWait = 90 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

type Client struct {
	opts Options
	base *url.URL
	http *http.Client

	mu       sync.Mutex
	loggedIn bool
}

func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: want http or https", opts.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts: opts,
		base: base,
		http: &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}, nil
}

// Login obtains a session cookie.
func (c *Client) Login(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"username": c.opts.Username, "password": c.opts.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrInvalidCredentials
	case http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &LockedOutError{RetryAfter: time.Duration(secs) * time.Second}
	default:
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
	log.Info().Str("module", "client").Str("user", c.opts.Username).Msg("logged in")
	return nil
}

func (c *Client) ensureLogin(ctx context.Context) error {
	c.mu.Lock()
	loggedIn := c.loggedIn
	c.mu.Unlock()
	if loggedIn {
		return nil
	}
	return c.Login(ctx)
}

func (c *Client) forgetLogin() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/ws"
	return u.String()
}

// Connect logs in when needed and opens the board socket. A 401 from the
// server forgets the session so the next Connect logs in again.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	if err := c.ensureLogin(ctx); err != nil {
		return nil, err
	}

	d := websocket.Dialer{Jar: c.http.Jar, HandshakeTimeout: 10 * time.Second}
	ws, resp, err := d.DialContext(ctx, c.wsURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			c.forgetLogin()
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	log.Info().Str("module", "client").Str("url", c.wsURL()).Msg("connected")
	return newConn(ws, c.opts), nil
}

// Conn is one board socket. Sends may come from any goroutine.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	wmu sync.Mutex
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	return &Conn{ws: ws, opts: opts}
}

func (c *Conn) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) SendPatch(p domain.Patch) error {
	frame, err := protocol.EncodePatch(p)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Conn) RequestSnapshot() error {
	return c.write(protocol.EncodeSnapshotRequest())
}

// Read waits up to timeout for the next message.
func (c *Conn) Read(timeout time.Duration) (protocol.Outbound, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Outbound{}, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Outbound{}, err
	}
	return protocol.DecodeOutbound(data)
}

// Run reads until the socket fails or ctx ends, passing every decoded
// message to handle.
func (c *Conn) Run(ctx context.Context, handle func(protocol.Outbound)) error {
	c.ws.SetPingHandler(func(data string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadWait)); err != nil {
			return err
		}
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteWait))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			msg, err := c.Read(c.opts.ReadWait)
			if errors.Is(err, protocol.ErrUnknownType) || errors.Is(err, protocol.ErrBadPayload) {
				log.Warn().Err(err).Str("module", "client").Msg("message ignored")
				continue
			}
			if err != nil {
				return err
			}
			handle(msg)
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		c.Close()
		return gctx.Err()
	})
	return g.Wait()
}

// Close says goodbye to the server and closes the socket.
func (c *Conn) Close() {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteWait))
	_ = c.ws.Close()
}
