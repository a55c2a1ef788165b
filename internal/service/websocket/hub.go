// Package websocket fans rendered frames out to connected viewers.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"

	"github.com/gorilla/websocket"
)

const writeWait = 2 * time.Second

// FrameMessage is what viewers receive for every output frame. Image is a
// base64 JPEG once encoded as JSON.
type FrameMessage struct {
	Stream string        `json:"stream"`
	Seq    uint64        `json:"seq"`
	Image  []byte        `json:"image"`
	Labels []model.Label `json:"labels"`
}

// HubService keeps the set of viewer connections. Broadcast never blocks
// the caller; messages are dropped while the hub is still busy.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	dropped    uint64
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 8),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every connection. Register and Unregister stop blocking once
// Run has returned.
func (h *HubService) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() {
		h.closeAll()
		close(h.done)
	})
	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Client disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues a raw message for every viewer.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.mutex.Lock()
		h.dropped++
		h.mutex.Unlock()
	}
}

// BroadcastFrame sends a rendered frame to viewers. It is a no-op without
// viewers so the JSON encoding is skipped.
func (h *HubService) BroadcastFrame(frame *model.Frame, jpeg []byte) error {
	if h.GetClientCount() == 0 {
		return nil
	}
	message, err := json.Marshal(FrameMessage{
		Stream: frame.StreamURI,
		Seq:    frame.Seq,
		Image:  jpeg,
		Labels: frame.Labels(),
	})
	if err != nil {
		return err
	}
	h.Broadcast(message)
	return nil
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were discarded.
func (h *HubService) Dropped() uint64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dropped
}
