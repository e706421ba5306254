// Package mailbox queues commands from the mobile app until the door
// device polls for them.
package mailbox

import (
	"sync"
	"time"
)

// DefaultCapacity matches the number of commands the device firmware
// expects the server to retain.
const DefaultCapacity = 10

type Command struct {
	Payload    string
	EnqueuedAt time.Time
}

// Mailbox is a bounded FIFO that evicts its oldest entry when full.
// Many producers may Enqueue concurrently; one consumer Dequeues.
type Mailbox struct {
	mu   sync.Mutex
	data []Command
	cap  int

	evicted uint64
}

func New(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{
		data: make([]Command, 0, capacity),
		cap:  capacity,
	}
}

// Enqueue appends cmd and reports whether the oldest command was dropped
// to make room. It never blocks.
func (m *Mailbox) Enqueue(cmd Command) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := false
	if len(m.data) >= m.cap {
		m.data = append(m.data[:0], m.data[1:]...)
		m.evicted++
		evicted = true
	}
	m.data = append(m.data, cmd)
	return evicted
}

// Dequeue removes and returns the oldest command.
func (m *Mailbox) Dequeue() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.data) == 0 {
		return Command{}, false
	}
	cmd := m.data[0]
	m.data = append(m.data[:0], m.data[1:]...)
	return cmd, true
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Mailbox) Cap() int { return m.cap }

// Evicted is the number of commands dropped unread since creation.
func (m *Mailbox) Evicted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}
