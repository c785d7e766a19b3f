package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HasheemYodhin/ys/internal/event"
	"github.com/HasheemYodhin/ys/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536 // SDP-offer не влезает в 4KB
	sendBufSize    = 256
)

var framePool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client: одна realtime-сессия. У пользователя их может быть несколько, presence
// следит за последней.
//
// Жизненный цикл: NewClient, Hub.Register, Start. Циклы чтения и записи выходят по
// Close или сетевой ошибке, цикл чтения возвращает сессию хабу.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan event.Envelope
	id       string
	userID   string
	userName string

	// rooms под hub.mu.
	rooms map[string]struct{}

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, userName string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan event.Envelope, sendBufSize),
		id:       uuid.New().String(),
		userID:   userID,
		userName: userName,
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// ID: id сессии для presence и сигналинга.
func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

// Start запускает оба цикла; cancel вызывается из Close.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *Client) Wait() { c.wg.Wait() }

// Close можно звать много раз из любой горутины.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	if err := extend(""); err != nil {
		logger.Errorf("ws read deadline session=%s: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(extend)

	for ctx.Err() == nil {
		msg, ok := c.next()
		if !ok {
			return
		}
		if msg.Type == "" {
			c.hub.sendError(c, "", "malformed frame")
			continue
		}
		c.hub.HandleMessage(ctx, c, msg)
	}
}

// next читает один кадр. ok=false, когда соединение больше не годится; нераспознанный
// кадр возвращается пустым сообщением.
func (c *Client) next() (msg IncomingMessage, ok bool) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			logger.Errorf("ws read user=%s session=%s: %v", c.userID, c.id, err)
		}
		return msg, false
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debugf("ws bad frame user=%s: %v", c.userID, err)
		return IncomingMessage{}, true
	}
	return msg, true
}

func (c *Client) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev := <-c.send:
			if err := c.writeEvent(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// writeEvent пишет ev одним текстовым кадром. Ошибка кодирования теряет только это событие.
func (c *Client) writeEvent(ev event.Envelope) error {
	buf := framePool.Get().(*bytes.Buffer)
	defer framePool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(ev); err != nil {
		logger.Errorf("ws encode %s user=%s: %v", ev.Type, c.userID, err)
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}
