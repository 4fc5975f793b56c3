package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/protocol"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/split"
)

const (
	channelReadLimit = 1 << 20
	writeTimeout     = 10 * time.Second
)

var (
	// ErrNotJoined indicates a send attempted without a live channel. The
	// local state has already changed when it is returned.
	ErrNotJoined = errors.New("client: not joined to a session")
	// ErrAlreadyJoined indicates a Join on a client that is not disconnected.
	ErrAlreadyJoined = errors.New("client: already joined")
	errMissingAPI    = errors.New("client: api dependency required")
)

// State is the connection state of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
)

// Config wires a Client.
type Config struct {
	API      *API
	Keyring  Keyring
	Logger   *zap.Logger
	OnChange func(bill.Session)
}

// Client holds one device's replica of a session and keeps it in sync over
// the session channel. The last snapshot received always replaces local state.
type Client struct {
	api      *API
	keyring  Keyring
	logger   *zap.Logger
	onChange func(bill.Session)

	mu        sync.Mutex
	state     State
	role      Role
	sessionID string
	session   bill.Session
	conn      *websocket.Conn
	cancel    context.CancelFunc
	readDone  chan struct{}
}

func New(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, errMissingAPI
	}
	keyring := cfg.Keyring
	if keyring == nil {
		keyring = NewMemoryKeyring()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:      cfg.API,
		keyring:  keyring,
		logger:   logger,
		onChange: cfg.OnChange,
		state:    StateDisconnected,
		role:     RoleGuest,
		session:  emptySession(""),
	}, nil
}

// Create registers a new session on the server and remembers its secret on
// this device.
func (c *Client) Create(ctx context.Context, adminSecret string) (string, error) {
	sessionID, err := c.api.CreateSession(ctx, adminSecret)
	if err != nil {
		return "", err
	}
	if err := c.keyring.Save(sessionID, adminSecret); err != nil {
		c.logger.Warn("cache admin secret failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return sessionID, nil
}

// Join connects to the session channel, hydrates from the server, and
// restores admin access when this device holds a valid secret. Rejoining the
// same session keeps the local replica until the server state arrives. When
// hydration fails the client disconnects and returns the error.
func (c *Client) Join(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.state = StateConnecting
	if c.sessionID != sessionID {
		c.sessionID = sessionID
		c.session = emptySession(sessionID)
	}
	c.role = RoleGuest
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.api.ChannelURL(), nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("client: dial channel: %w", err)
	}
	conn.SetReadLimit(channelReadLimit)

	frame, err := protocol.EncodeJoin(sessionID)
	if err == nil {
		err = write(ctx, conn, frame)
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		c.setState(StateDisconnected)
		return fmt.Errorf("client: join session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.readDone = done
	c.state = StateJoined
	c.mu.Unlock()
	go c.readLoop(loopCtx, conn, done)

	session, err := c.api.FetchSession(ctx, sessionID)
	if err != nil {
		_ = c.Close()
		if errors.Is(err, ErrSessionNotFound) {
			return err
		}
		c.logger.Warn("hydrate session failed", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("client: hydrate session: %w", err)
	}
	c.applySnapshot(session)

	c.restoreRole(ctx, sessionID)
	return nil
}

// Close leaves the channel. Local state is kept.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.readDone
	c.conn = nil
	c.cancel = nil
	c.readDone = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	<-done
	if err != nil {
		c.logger.Debug("close session channel", zap.Error(err))
	}
	return nil
}

// Elevate grants admin access after the server accepts adminSecret.
func (c *Client) Elevate(ctx context.Context, adminSecret string) error {
	sessionID := c.SessionID()
	ok, err := c.api.VerifySecret(ctx, sessionID, adminSecret)
	if err != nil {
		return err
	}
	if !ok {
		return ErrIncorrectSecret
	}
	if err := c.keyring.Save(sessionID, adminSecret); err != nil {
		c.logger.Warn("cache admin secret failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	c.setRole(sessionID, RoleAdmin)
	return nil
}

// Logout drops admin access on this device only.
func (c *Client) Logout() error {
	sessionID := c.SessionID()
	c.setRole(sessionID, RoleGuest)
	return c.keyring.Delete(sessionID)
}

// Resync sends the whole local state as one update.
func (c *Client) Resync(ctx context.Context) error {
	c.mu.Lock()
	patch := bill.PatchFrom(c.session, bill.AllFields)
	sessionID, conn, joined := c.sessionID, c.conn, c.state == StateJoined
	c.mu.Unlock()
	if !joined || conn == nil {
		return ErrNotJoined
	}
	return c.send(ctx, conn, sessionID, patch)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Session returns a deep copy of the local replica.
func (c *Client) Session() bill.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

// Summary runs the split engine over the local replica.
func (c *Client) Summary() split.Summary {
	return split.Calculate(split.FromSession(c.Session()))
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer c.dropConnection(conn)

	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.Warn("session channel closed", zap.Error(err))
			}
			return
		}
		envelope, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn("ignore malformed frame", zap.Error(err))
			continue
		}
		if envelope.Type != protocol.TypeSessionUpdated {
			continue
		}
		session, err := envelope.DecodeSession()
		if err != nil {
			c.logger.Warn("ignore malformed session", zap.Error(err))
			continue
		}
		c.applySnapshot(session)
	}
}

func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.cancel = nil
	c.readDone = nil
	c.state = StateDisconnected
}

// applySnapshot replaces the local replica wholesale. Snapshots for another
// session are dropped.
func (c *Client) applySnapshot(session bill.Session) {
	c.mu.Lock()
	if session.ID != "" && session.ID != c.sessionID {
		c.mu.Unlock()
		return
	}
	next := session.Clone()
	next.ID = c.sessionID
	next.AdminSecret = ""
	next.Items = bill.NormalizeItems(next.Items)
	if next.Guests == nil {
		next.Guests = []bill.Guest{}
	}
	c.session = next
	snapshot := next.Clone()
	c.mu.Unlock()

	c.notify(snapshot)
}

func (c *Client) restoreRole(ctx context.Context, sessionID string) {
	secret, ok, err := c.keyring.Load(sessionID)
	if err != nil {
		c.logger.Warn("load admin secret failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	verified, err := c.api.VerifySecret(ctx, sessionID, secret)
	if err != nil {
		c.logger.Warn("verify cached secret failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !verified {
		if err := c.keyring.Delete(sessionID); err != nil {
			c.logger.Warn("drop stale secret failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	c.setRole(sessionID, RoleAdmin)
}

func (c *Client) setRole(sessionID string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID {
		c.role = role
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *Client) notify(session bill.Session) {
	if c.onChange != nil {
		c.onChange(session)
	}
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, sessionID string, patch bill.Patch) error {
	frame, err := protocol.EncodeUpdate(sessionID, patch)
	if err != nil {
		return err
	}
	if err := write(ctx, conn, frame); err != nil {
		c.logger.Warn("send update failed", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("client: send update: %w", err)
	}
	return nil
}

func write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}

func emptySession(sessionID string) bill.Session {
	return bill.Session{ID: sessionID, Items: []bill.Item{}, Guests: []bill.Guest{}}
}
