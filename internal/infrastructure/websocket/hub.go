// Package websocket 会话进度的实时推送
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/thinkinglens/backend/internal/domain/events"
)

// Hub WebSocket 连接管理中心
// 按会话分组连接；工作流事件经订阅转发给该会话的所有观察者
type Hub struct {
	// 按会话 ID 分组的连接
	sessions map[string]map[*Connection]bool
	// 注册连接
	register chan *Connection
	// 注销连接
	unregister chan *Connection
	// 广播消息
	broadcast chan *Message
	mu        sync.RWMutex
}

// Connection WebSocket 连接
type Connection struct {
	SessionID string
	Send      chan []byte
}

// Message 消息
type Message struct {
	SessionID string
	Data      []byte
}

// ProgressFrame 推送给前端的进度帧
type ProgressFrame struct {
	Event      string    `json:"event"`
	SessionID  string    `json:"sessionId"`
	Stage      string    `json:"stage,omitempty"`
	SectionKey string    `json:"sectionKey,omitempty"`
	VersionID  int64     `json:"versionId,omitempty"`
	Progress   string    `json:"progress,omitempty"`
	Time       time.Time `json:"time"`
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *Message),
	}
}

// Run 运行 Hub（需要在 goroutine 中运行）
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.sessions[conn.SessionID] == nil {
				h.sessions[conn.SessionID] = make(map[*Connection]bool)
			}
			h.sessions[conn.SessionID][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.sessions[conn.SessionID]; ok {
				if _, ok := conns[conn]; ok {
					delete(conns, conn)
					close(conn.Send)
					if len(conns) == 0 {
						delete(h.sessions, conn.SessionID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			if conns, ok := h.sessions[msg.SessionID]; ok {
				for conn := range conns {
					select {
					case conn.Send <- msg.Data:
					default:
						// 消费不动的连接直接踢掉，不阻塞广播
						close(conn.Send)
						delete(conns, conn)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Start 启动 Hub 并订阅工作流事件
func (h *Hub) Start(bus events.EventBus) {
	go h.Run()

	bus.SubscribeMultiple([]events.EventType{
		events.TurnCommitted,
		events.SectionCompleted,
		events.StageChanged,
		events.VersionCreated,
	}, events.HandlerFunc(h.handleWorkflowEvent))
}

// handleWorkflowEvent 把工作流事件转成进度帧推送
func (h *Hub) handleWorkflowEvent(event events.Event) error {
	we, ok := event.(*events.WorkflowEvent)
	if !ok {
		return nil
	}
	return h.BroadcastToSession(we.SessionID, ProgressFrame{
		Event:      string(we.EventType),
		SessionID:  we.SessionID,
		Stage:      we.Stage,
		SectionKey: we.SectionKey,
		VersionID:  we.VersionID,
		Progress:   we.Progress,
		Time:       we.EventTime,
	})
}

// Register 注册连接
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister 注销连接
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BroadcastToSession 向指定会话的观察者广播消息
func (h *Hub) BroadcastToSession(sessionID string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	h.broadcast <- &Message{
		SessionID: sessionID,
		Data:      jsonData,
	}
	return nil
}
