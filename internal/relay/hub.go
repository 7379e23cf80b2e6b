package relay

import "sync"

// StreamClient abstracts a streaming dashboard client. Send must not block:
// implementations queue internally and report an error when they cannot keep
// up, at which point the hub drops them.
type StreamClient interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by project ID. A single run loop owns the
// client sets, so fan-out needs no locking and a failed send evicts only the
// failing client.
type Hub struct {
	clients   map[string]map[StreamClient]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	stop      chan struct{}
	stopOnce  sync.Once
}

// message couples payload with project identifier.
type message struct {
	projectID string
	payload   []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	projectID string
	client    StreamClient
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[StreamClient]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
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
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[StreamClient]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.projectID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.projectID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.projectID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.projectID)
				}
			}
		}
	}
}

// Register adds a client to a project stream. A no-op once the hub is
// closed, so connection teardown during shutdown never blocks.
func (h *Hub) Register(projectID string, client StreamClient) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.stop:
	}
}

// Unregister removes a client. A no-op once the hub is closed.
func (h *Hub) Unregister(projectID string, client StreamClient) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.stop:
	}
}

// Broadcast sends payload to all project clients. Dropped once the hub is
// closed.
func (h *Hub) Broadcast(projectID string, payload []byte) {
	select {
	case h.broadcast <- message{projectID: projectID, payload: payload}:
	case <-h.stop:
	}
}

// Close shuts down the run loop and disconnects every client.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}
