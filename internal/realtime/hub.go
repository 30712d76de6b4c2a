// Package realtime keeps track of live connections and the channels they have
// joined, and pushes order events to them.
package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/channel"
)

var (
	ErrUnknownConnection   = errors.New("realtime: unknown connection")
	ErrDuplicateConnection = errors.New("realtime: connection already attached")
)

// Gauge tracks the number of attached connections.
type Gauge interface {
	Set(float64)
}

type nopGauge struct{}

func (nopGauge) Set(float64) {}

type conn struct {
	send     chan []byte
	channels map[channel.Key]struct{}
}

// Hub is an in-process connection registry. Membership lives only as long as
// the connection; nothing is persisted.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*conn
	channels map[channel.Key]map[string]*conn
	gauge    Gauge
}

func NewHub(gauge Gauge) *Hub {
	if gauge == nil {
		gauge = nopGauge{}
	}
	return &Hub{
		conns:    make(map[string]*conn),
		channels: make(map[channel.Key]map[string]*conn),
		gauge:    gauge,
	}
}

// Attach registers a connection and returns the stream of payloads addressed
// to it. The stream is closed on Detach.
func (h *Hub) Attach(connID string, buffer int) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; ok {
		return nil, ErrDuplicateConnection
	}
	c := &conn{
		send:     make(chan []byte, buffer),
		channels: make(map[channel.Key]struct{}),
	}
	h.conns[connID] = c
	h.gauge.Set(float64(len(h.conns)))
	return c.send, nil
}

func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(connID)
}

func (h *Hub) detachLocked(connID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	for key := range c.channels {
		h.removeMember(key, connID)
	}
	delete(h.conns, connID)
	close(c.send)
	h.gauge.Set(float64(len(h.conns)))
}

func (h *Hub) removeMember(key channel.Key, connID string) {
	members := h.channels[key]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.channels, key)
	}
}

// Join is idempotent.
func (h *Hub) Join(connID string, key channel.Key) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	c.channels[key] = struct{}{}
	members, ok := h.channels[key]
	if !ok {
		members = make(map[string]*conn)
		h.channels[key] = members
	}
	members[connID] = c
	return nil
}

func (h *Hub) Leave(connID string, key channel.Key) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return
	}
	delete(c.channels, key)
	h.removeMember(key, connID)
}

// Publish queues payload on every member of key. A channel with no members is
// a no-op. Members whose buffer is full are disconnected.
func (h *Hub) Publish(_ context.Context, key channel.Key, payload []byte) error {
	var slow []string

	h.mu.RLock()
	for id, c := range h.channels[key] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, id := range slow {
			log.Warn().Str("conn_id", id).Stringer("channel", key).Msg("realtime: send buffer full, disconnecting")
			h.detachLocked(id)
		}
		h.mu.Unlock()
	}
	return nil
}

// Send addresses a single connection, e.g. to acknowledge a client message.
func (h *Hub) Send(connID string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("realtime: send buffer full")
	}
}

func (h *Hub) Members(key channel.Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[key])
}

// Channels lists what a connection has joined, sorted.
func (h *Hub) Channels(connID string) []channel.Key {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[connID]
	if !ok {
		return nil
	}
	keys := make([]channel.Key, 0, len(c.channels))
	for key := range c.channels {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
