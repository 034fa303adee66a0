package chat

// HistoryCapacity is the number of messages a room retains.
const HistoryCapacity = 100

// History is a bounded FIFO log of messages. It is not safe for concurrent
// use; the owning room serializes access.
type History struct {
	capacity int
	messages []Message
}

// NewHistory returns an empty history holding at most capacity messages.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{capacity: capacity}
}

// Append adds m at the tail, evicting the oldest entries beyond capacity.
func (h *History) Append(m Message) {
	h.messages = append(h.messages, m)
	if over := len(h.messages) - h.capacity; over > 0 {
		h.messages = h.messages[over:]
	}
}

// List returns a copy of the history, oldest first.
func (h *History) List() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int { return len(h.messages) }

// Last returns the newest message.
func (h *History) Last() (Message, bool) {
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}
