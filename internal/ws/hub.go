package ws

import (
	"encoding/json"
	"sync"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans team activity events out to subscribed clients, keyed by team ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	stop      chan struct{}
	once      sync.Once
}

type message struct {
	teamID  string
	payload []byte
}

type subscription struct {
	teamID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		stop:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.teamID]; !ok {
				h.clients[sub.teamID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.teamID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.teamID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.teamID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.teamID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.teamID)
				}
			}
		}
	}
}

// Register adds a client to a team stream.
func (h *Hub) Register(teamID string, client Subscriber) {
	select {
	case h.register <- subscription{teamID: teamID, client: client}:
	case <-h.stop:
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(teamID string, client Subscriber) {
	select {
	case h.unreg <- subscription{teamID: teamID, client: client}:
	case <-h.stop:
	}
}

// Broadcast delivers payload to every subscriber of the team.
func (h *Hub) Broadcast(teamID string, payload []byte) {
	select {
	case h.broadcast <- message{teamID: teamID, payload: payload}:
	case <-h.stop:
	}
}

// BroadcastJSON marshals v and broadcasts it. Marshal failures are dropped.
func (h *Hub) BroadcastJSON(teamID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.Broadcast(teamID, payload)
}

// Close shuts the hub down and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.stop)
	})
}
