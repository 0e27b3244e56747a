package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"fraudguard/internal/service/fraud/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 后台面板与服务不同源，允许跨域
		return true
	},
}

// SignalFeed 维护后台面板的 WebSocket 连接，把每次评估结果实时推送出去。实现 port.SignalPublisher。
type SignalFeed struct {
	clients    map[string]*feedClient
	register   chan *feedClient
	unregister chan *feedClient
	done       chan struct{}
	lock       sync.RWMutex
}

func NewSignalFeed() *SignalFeed {
	return &SignalFeed{
		clients:    make(map[string]*feedClient),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		done:       make(chan struct{}),
	}
}

// Run 处理连接的注册与注销，ctx 取消后关闭所有连接。
func (f *SignalFeed) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case c := <-f.register:
			f.lock.Lock()
			f.clients[c.id] = c
			f.lock.Unlock()
			log.Debug().Str("client", c.id).Msg("signal feed client registered")
		case c := <-f.unregister:
			f.lock.Lock()
			if _, ok := f.clients[c.id]; ok {
				delete(f.clients, c.id)
				close(c.send)
			}
			f.lock.Unlock()
			log.Debug().Str("client", c.id).Msg("signal feed client unregistered")
		case <-ctx.Done():
			f.lock.Lock()
			for id, c := range f.clients {
				delete(f.clients, id)
				close(c.send)
			}
			f.lock.Unlock()
			return
		}
	}
}

// Clients 返回当前连接数。
func (f *SignalFeed) Clients() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.clients)
}

// PublishAssessment 广播评估结果。发送缓冲已满的慢连接会被跳过，不阻塞结账。
func (f *SignalFeed) PublishAssessment(_ context.Context, event *domain.FraudAssessed) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	f.lock.RLock()
	defer f.lock.RUnlock()
	for _, c := range f.clients {
		select {
		case c.send <- payload:
		default:
			log.Warn().Str("client", c.id).Msg("signal feed client too slow, dropping message")
		}
	}
	return nil
}

// ServeHTTP 把请求升级为 WebSocket 并注册到 feed。
func (f *SignalFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &feedClient{feed: f, conn: conn, send: make(chan []byte, sendBuffer), id: uuid.New().String()}
	select {
	case f.register <- c:
	case <-f.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type feedClient struct {
	feed *SignalFeed
	conn *websocket.Conn
	send chan []byte
	id   string
}

// writePump 把 send 中的消息写入连接，并定时发送 ping。
func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理 pong 和关闭，面板不会发业务消息。
func (c *feedClient) readPump() {
	defer func() {
		select {
		case c.feed.unregister <- c:
		case <-c.feed.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
