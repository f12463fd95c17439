package sse

import (
	"context"
	"sync"

	"tradinta-forging/internal/models"
)

const clientBuffer = 10

// ProgressEmitter fans out live progress of forging events to SSE clients
type ProgressEmitter struct {
	// key: forgingEventID, value: slice of client channels
	clients map[string][]chan models.ProgressUpdate
	mu      sync.RWMutex
}

func NewProgressEmitter() *ProgressEmitter {
	return &ProgressEmitter{
		clients: make(map[string][]chan models.ProgressUpdate),
	}
}

// Subscribe adds a client to an event's progress stream. The channel is
// closed once ctx is done.
func (e *ProgressEmitter) Subscribe(ctx context.Context, eventID string) <-chan models.ProgressUpdate {
	clientChan := make(chan models.ProgressUpdate, clientBuffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], clientChan)
	e.mu.Unlock()

	// Remove client when context is done
	go func() {
		<-ctx.Done()
		e.removeClient(eventID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts an update to every subscriber of its event
func (e *ProgressEmitter) Emit(update models.ProgressUpdate) {
	// The read lock is held across the sends so removeClient cannot close a
	// channel mid-broadcast.
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[update.ForgingEventID] {
		// Non-blocking send; a slow client misses this update
		select {
		case clientChan <- update:
		default:
		}
	}
}

func (e *ProgressEmitter) removeClient(eventID string, clientChan chan models.ProgressUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients currently subscribed to an event
func (e *ProgressEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
