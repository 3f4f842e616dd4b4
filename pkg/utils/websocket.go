package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// WSReadTimeout 是两次读取（或 pong）之间允许的最长间隔。
	WSReadTimeout = 60 * time.Second
	// WSPingInterval 必须小于 WSReadTimeout。
	WSPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// WSConn 包装 websocket 连接，串行化写操作并维护心跳。
type WSConn struct {
	*websocket.Conn
	mu  sync.Mutex
	log *logrus.Entry
}

// NewWSConn 设置读超时与 pong 处理。
func NewWSConn(conn *websocket.Conn, log *logrus.Entry) *WSConn {
	_ = conn.SetReadDeadline(time.Now().Add(WSReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(WSReadTimeout))
	})
	return &WSConn{Conn: conn, log: log}
}

// ExtendDeadline 在收到消息后延长读超时。
func (c *WSConn) ExtendDeadline() {
	_ = c.SetReadDeadline(time.Now().Add(WSReadTimeout))
}

// SendJSON 发送 JSON 消息，失败时记录日志并返回错误。
func (c *WSConn) SendJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.WriteJSON(payload); err != nil {
		c.log.WithError(err).Warn("websocket write failed")
		return err
	}
	return nil
}

// PingLoop 定期发送ping消息，直到 ctx 结束或写入失败。
func (c *WSConn) PingLoop(ctx context.Context) {
	ticker := time.NewTicker(WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// IsUnexpectedClose 判断读错误是否为非正常关闭，消息超限也算在内。
func IsUnexpectedClose(err error) bool {
	if errors.Is(err, websocket.ErrReadLimit) {
		return true
	}
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure)
}
