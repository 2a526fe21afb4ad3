package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fogha/raiken-sub000/internal/bridge"
	"github.com/fogha/raiken-sub000/internal/domain"
)

// Options configures the relay client.
type Options struct {
	URL       string
	SessionID string // generated when empty
	Role      string

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReconnectDelay   time.Duration // initial backoff
	ReconnectMax     time.Duration // backoff ceiling
}

func (o *Options) fillDefaults() {
	if o.Role == "" {
		o.Role = "bridge"
	}
	if o.SessionID == "" {
		o.SessionID = "sess_" + uuid.New().String()[:8]
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 60 * time.Second
	}
}

// Client maintains the relay connection and answers RPC envelopes.
type Client struct {
	opts    Options
	handler *bridge.Handler
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a relay client.
func New(opts Options, handler *bridge.Handler, log zerolog.Logger) *Client {
	opts.fillDefaults()
	return &Client{opts: opts, handler: handler, log: log}
}

// SessionID returns the session identifier the connection is tagged with.
func (c *Client) SessionID() string {
	return c.opts.SessionID
}

// Run connects and serves until ctx is cancelled, reconnecting forever on
// close or error. Backoff starts at the configured delay, doubles per
// consecutive failure and is capped; it resets after a healthy connection.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.ReconnectDelay
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = c.opts.ReconnectDelay
			continue
		}

		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("relay connection lost")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.opts.ReconnectMax {
			backoff = c.opts.ReconnectMax
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	endpoint, err := url.Parse(c.opts.URL)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	q := endpoint.Query()
	q.Set("role", c.opts.Role)
	q.Set("session", c.opts.SessionID)
	endpoint.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.log.Info().Str("session", c.opts.SessionID).Msg("relay connected")

	// Close the socket when ctx is cancelled so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Keepalive: the bridge pings on an interval and also answers any
	// ping it receives with a matching-id pong.
	pings := time.NewTicker(c.opts.PingInterval)
	defer pings.Stop()
	go func() {
		for {
			select {
			case <-pings.C:
				c.send(Message{ID: uuid.New().String(), Type: TypePing})
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay read: %w", err)
		}
		c.handleMessage(ctx, data)
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn().Err(err).Msg("invalid relay envelope")
		return
	}

	switch msg.Type {
	case TypePing:
		c.send(Message{ID: msg.ID, Type: TypePong})
	case TypePong:
		// Keepalive answer; nothing to do.
	case TypeRPC:
		go c.handleRPC(ctx, msg)
	default:
		c.send(Message{ID: msg.ID, Type: TypeRPC, Error: "unknown envelope type: " + msg.Type})
	}
}

func (c *Client) handleRPC(ctx context.Context, msg Message) {
	result, err := c.dispatch(ctx, msg.Method, msg.Params)

	reply := Message{ID: msg.ID, Type: TypeRPC}
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Result = result
	}
	c.send(reply)
}

type saveTestParams struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Name     string `json:"name"`
}

type executeTestParams struct {
	TestPath string                 `json:"testPath"`
	Config   domain.ExecutionConfig `json:"config"`
}

type testPathParams struct {
	TestPath string `json:"testPath"`
}

type reportIDParams struct {
	ReportID string `json:"reportId"`
	ID       string `json:"id"`
}

// dispatch forwards an rpc envelope to the shared command handler.
// Unknown methods answer with an error envelope; the connection stays up.
func (c *Client) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodSaveTest:
		var p saveTestParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		filename := p.Filename
		if filename == "" {
			filename = p.Name
		}
		path, err := c.handler.SaveTest(ctx, p.Content, filename)
		if err != nil {
			return nil, err
		}
		return map[string]any{"success": true, "path": path, "filePath": path}, nil

	case MethodExecuteTest:
		var p executeTestParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		res, reportID, err := c.handler.ExecuteTest(ctx, p.TestPath, p.Config)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":  res.Success,
			"output":   res.Output,
			"error":    res.Error,
			"reportId": reportID,
		}, nil

	case MethodGetTestFiles:
		files, err := c.handler.GetTestFiles(ctx)
		if err != nil {
			return nil, err
		}
		if files == nil {
			files = []domain.TestFile{}
		}
		return map[string]any{"success": true, "files": files}, nil

	case MethodGetReports:
		reports, err := c.handler.GetReports(ctx)
		if err != nil {
			return nil, err
		}
		if reports == nil {
			reports = []domain.TestReport{}
		}
		return map[string]any{"success": true, "reports": reports}, nil

	case MethodDeleteReport:
		var p reportIDParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		id := p.ReportID
		if id == "" {
			id = p.ID
		}
		if err := c.handler.DeleteReport(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	case MethodDeleteTest:
		var p testPathParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := c.handler.DeleteTest(ctx, p.TestPath); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil

	case MethodPing:
		return c.handler.Ping(ctx), nil
	}

	return nil, fmt.Errorf("unknown method: %s", method)
}

func unmarshalParams(params json.RawMessage, into any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, into); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// Notify pushes an unsolicited rpc envelope. Dropped silently when the
// relay is not connected.
func (c *Client) Notify(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Msg("notify marshal failed")
		return
	}
	c.send(Message{ID: uuid.New().String(), Type: TypeRPC, Method: method, Params: raw})
}

// send writes one envelope. gorilla allows a single concurrent writer, so
// writes serialize on the client mutex.
func (c *Client) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Warn().Err(err).Msg("relay write failed")
	}
}
