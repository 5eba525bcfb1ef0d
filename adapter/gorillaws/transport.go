package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/trickstertwo/xhub"
)

const TransportName = "websocket"

var ErrTransportClosed = errors.New("gorillaws: transport is closed")

func init() {
	if err := xhub.RegisterTransport(TransportName, func(cfg map[string]any) (xhub.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xhub/gorillaws: failed to register transport: %w", err))
	}
}

// Transport implements xhub.Transport over WebSocket text frames.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	mu      sync.Mutex
	servers []*http.Server
	conns   map[*conn]struct{}

	closed atomic.Bool
	seq    atomic.Uint64
}

var _ xhub.Transport = (*Transport)(nil)

// NewTransport validates cfg and creates a transport.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:   cfg,
		conns: make(map[*conn]struct{}),
	}
	t.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      t.checkOrigin,
	}
	t.dialer = websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return t, nil
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if len(t.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range t.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Router returns the HTTP handler serving upgrades for h, for mounting on an existing server.
func (t *Transport) Router(h xhub.ConnHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if t.cfg.HealthPath != "" {
		r.Get(t.cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Get(t.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		t.serve(w, r, h)
	})
	return r
}

// Listen binds addr and serves upgrades in the background.
func (t *Transport) Listen(_ context.Context, addr string, h xhub.ConnHandler) (string, error) {
	if t.closed.Load() {
		return "", ErrTransportClosed
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{
		Handler:           t.Router(h),
		ReadHeaderTimeout: t.cfg.HandshakeTimeout,
	}
	t.mu.Lock()
	t.servers = append(t.servers, srv)
	t.mu.Unlock()

	go func() {
		_ = srv.Serve(ln)
	}()
	return ln.Addr().String(), nil
}

func (t *Transport) serve(w http.ResponseWriter, r *http.Request, h xhub.ConnHandler) {
	if t.closed.Load() {
		http.Error(w, ErrTransportClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with an HTTP error
		return
	}

	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	c := t.newConn(ws, params, h)

	if err := h.Accept(c); err != nil {
		code, reason := xhub.CloseCodeFor(err)
		c.reject(code, reason)
		return
	}
	t.track(c)
	c.readLoop()
}

// Dial connects to ws://addr<Path> presenting params as the query string.
func (t *Transport) Dial(ctx context.Context, addr string, params map[string]string, h xhub.ConnHandler) (xhub.Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: t.cfg.Path, RawQuery: q.Encode()}

	ws, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("gorillaws: dial %s: %w", addr, err)
	}

	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	c := t.newConn(ws, p, h)
	if err := h.Accept(c); err != nil {
		code, reason := xhub.CloseCodeFor(err)
		c.reject(code, reason)
		return nil, err
	}
	t.track(c)
	go c.readLoop()
	return c, nil
}

// Close closes every connection with 1001 and shuts the HTTP servers down.
func (t *Transport) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil // Already closed
	}

	t.mu.Lock()
	servers := t.servers
	t.servers = nil
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(xhub.CloseGoingAway, "transport closed")
	}

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) track(c *conn) {
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
}

func (t *Transport) forget(c *conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

// Open returns the number of open connections.
func (t *Transport) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
