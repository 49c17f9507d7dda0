package server

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/filter"
	"firestige.xyz/sniff/internal/log"
	"firestige.xyz/sniff/internal/metrics"
)

// Client is one websocket connection. Packets are queued without blocking and dropped
// when the queue is full; control replies evict a queued packet instead.
type Client struct {
	srv    *Server
	conn   *websocket.Conn
	sendCh chan Message
	done   chan struct{}
	logger log.Logger

	mu   sync.RWMutex
	expr filter.Expression
}

func newClient(srv *Server, conn *websocket.Conn) *Client {
	return &Client{
		srv:    srv,
		conn:   conn,
		sendCh: make(chan Message, srv.cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: srv.logger.WithField("remote", conn.RemoteAddr().String()),
	}
}

// Expression returns the client's packet filter.
func (c *Client) Expression() filter.Expression {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expr
}

func (c *Client) setExpression(e filter.Expression) {
	c.mu.Lock()
	c.expr = e
	c.mu.Unlock()
}

// wants reports whether pkt passes the client's filter.
func (c *Client) wants(pkt *core.DecodedPacket) bool {
	return c.Expression().Match(pkt)
}

// SendMessage queues msg for the write loop. It never blocks.
func (c *Client) SendMessage(msg Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.sendCh <- msg:
		return
	default:
	}

	if msg.Type == TypePacket {
		metrics.StreamDroppedTotal.Inc()
		return
	}
	// make room for the control message by dropping the oldest queued one
	select {
	case <-c.sendCh:
		metrics.StreamDroppedTotal.Inc()
	default:
	}
	select {
	case c.sendCh <- msg:
	default:
	}
}

func (c *Client) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.write(msg); err != nil {
				return
			}
			for n := len(c.sendCh); n > 0; n-- {
				if err := c.write(<-c.sendCh); err != nil {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) write(msg Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.WithError(err).Debug("websocket write failed")
		return err
	}
	return nil
}

// readLoop dispatches client commands until the connection fails.
func (c *Client) readLoop() {
	defer func() {
		c.srv.unregister(c)
		close(c.done)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("websocket read failed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(errors.New("invalid message format"))
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *Client) handleCommand(msg Message) {
	switch msg.Type {
	case TypeStart:
		sess := c.srv.sel.Session()
		if sess == nil {
			c.sendError(errNoSession)
			return
		}
		sess.Start()
		c.srv.broadcast(newMessage(TypeCommandSent, CommandPayload{Command: msg.Type, Session: sess.ID()}))

	case TypeStop:
		sess := c.srv.sel.Session()
		if sess == nil {
			c.sendError(errNoSession)
			return
		}
		sess.Stop()
		c.srv.broadcast(newMessage(TypeCommandSent, CommandPayload{Command: msg.Type, Session: sess.ID()}))

	case TypeFilter:
		var req FilterRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(errors.New("invalid filter payload"))
			return
		}
		expr, err := filter.ParseExpression(req.Expression)
		if err != nil {
			c.sendError(err)
			return
		}
		c.setExpression(expr)
		c.SendMessage(newMessage(TypeFilterOK, FilterPayload{Expression: expr.String()}))

	case TypeSelectFile, TypeSelectDevice:
		var req SelectRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError(errors.New("invalid select payload"))
			return
		}
		if err := c.srv.selectSource(msg.Type, req); err != nil {
			c.sendError(err)
		}

	case TypeSave:
		var req SaveRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Path == "" {
			c.sendError(errors.New("invalid save payload"))
			return
		}
		sess := c.srv.sel.Session()
		if sess == nil {
			c.sendError(errNoSession)
			return
		}
		path, err := c.srv.savePath(req.Path)
		if err != nil {
			c.sendError(err)
			return
		}
		if err := sess.SaveToFile(path); err != nil {
			c.sendError(err)
			return
		}
		c.SendMessage(newMessage(TypeSaved, SaveRequest{Path: path}))

	case TypeStats:
		sess := c.srv.sel.Session()
		if sess == nil {
			c.sendError(errNoSession)
			return
		}
		c.SendMessage(newMessage(TypeStats, c.srv.describe(sess)))

	case TypeInterfaces:
		ifaces, err := c.srv.listInterfaces()
		if err != nil {
			c.sendError(err)
			return
		}
		c.SendMessage(newMessage(TypeInterfaces, ifaces))

	default:
		c.sendError(errors.New("unknown command: " + msg.Type))
	}
}

func (c *Client) sendError(err error) {
	p := ErrorPayload{Message: err.Error()}
	var perr *filter.ParseError
	if errors.As(err, &perr) {
		p.Token = perr.Token
	}
	c.SendMessage(newMessage(TypeError, p))
}
