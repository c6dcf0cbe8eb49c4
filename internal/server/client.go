package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drawboard/drawboard/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// drawing frames carry whole element collections
	maxMessageSize = 1 << 20
)

type Client struct {
	conn        *websocket.Conn
	boardServer *BoardServer
	log         *log.Logger
	user        types.User
	send        chan []byte
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, bs *BoardServer, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		boardServer: bs,
		log:         l,
		user:        user,
		send:        make(chan []byte, 256),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			if !c.sendMessage(websocket.TextMessage, frame) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.boardServer.Route(c, raw)
	}
}

// queueFrame enqueues a frame for the write pump without blocking. A full
// queue means the recipient cannot keep up; the frame is dropped and the
// client reconciles through the snapshot log later.
func (c *Client) queueFrame(frame []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- frame:
	default:
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.boardServer.Release(c)
	c.stopClient()
}
