package server

import "sync"

// LogBuffer captures log output in memory for the /logs endpoint and fans
// new lines out to websocket subscribers. It is installed as a log writer
// next to stdout via io.MultiWriter.
type LogBuffer struct {
	mu          sync.Mutex
	lines       []string
	subscribers map[int]chan string
	nextID      int
}

const maxBufferedLines = 1000

// NewLogBuffer creates an empty log buffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		lines:       make([]string, 0, maxBufferedLines),
		subscribers: make(map[int]chan string),
	}
}

// Write appends one log line and notifies subscribers. A slow subscriber
// drops lines instead of blocking the logger.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	line := string(p)
	lb.lines = append(lb.lines, line)
	if len(lb.lines) > maxBufferedLines {
		lb.lines = lb.lines[len(lb.lines)-maxBufferedLines:]
	}

	for _, ch := range lb.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
	return len(p), nil
}

// Lines returns a copy of the buffered log lines.
func (lb *LogBuffer) Lines() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lines := make([]string, len(lb.lines))
	copy(lines, lb.lines)
	return lines
}

// Subscribe registers a listener for new log lines. The returned cancel
// function must be called when the listener goes away.
func (lb *LogBuffer) Subscribe() (<-chan string, func()) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	id := lb.nextID
	lb.nextID++
	ch := make(chan string, 64)
	lb.subscribers[id] = ch

	cancel := func() {
		lb.mu.Lock()
		defer lb.mu.Unlock()
		if _, ok := lb.subscribers[id]; ok {
			delete(lb.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}
