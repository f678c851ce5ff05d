package history

import (
	"iter"
	"sync"
	"time"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// Entry is one line of the conversation. Entries are never changed after
// they are appended.
type Entry struct {
	ID        uint64
	Sender    Sender
	Content   string
	Modality  Modality
	CreatedAt time.Time
}

// Log is an append-only conversation record. It is safe for one writer and
// any number of concurrent readers.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  uint64
	now     func() time.Time
}

func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		entries: make([]Entry, 0, 64),
		nextID:  1,
		now:     now,
	}
}

func (l *Log) Append(sender Sender, content string, modality Modality) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        l.nextID,
		Sender:    sender,
		Content:   content,
		Modality:  modality,
		CreatedAt: l.now(),
	}
	l.nextID++
	l.entries = append(l.entries, entry)
	return entry
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// All yields the entries present when iteration starts. Each range over the
// returned sequence takes a fresh snapshot.
func (l *Log) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, entry := range l.Entries() {
			if !yield(entry) {
				return
			}
		}
	}
}
