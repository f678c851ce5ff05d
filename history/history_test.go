package history

import (
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	log := NewLog(fixedClock())

	first := log.Append(SenderSystem, "Connected to voice assistant", ModalityText)
	second := log.Append(SenderUser, "hello", ModalityText)
	third := log.Append(SenderAssistant, "hi there", ModalityVoice)

	if first.ID != 1 {
		t.Errorf("first ID = %d, want 1", first.ID)
	}
	if !(first.ID < second.ID && second.ID < third.ID) {
		t.Errorf("IDs not strictly increasing: %d, %d, %d", first.ID, second.ID, third.ID)
	}
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Errorf("CreatedAt not taken from clock: %v then %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestEntriesIsSnapshot(t *testing.T) {
	log := NewLog(nil)
	log.Append(SenderUser, "one", ModalityText)

	snapshot := log.Entries()
	snapshot[0].Content = "changed"
	log.Append(SenderUser, "two", ModalityText)

	if len(snapshot) != 1 {
		t.Fatalf("snapshot grew to %d entries", len(snapshot))
	}
	if got := log.Entries()[0].Content; got != "one" {
		t.Errorf("stored entry mutated through snapshot: %q", got)
	}
}

func TestAllIsRestartable(t *testing.T) {
	log := NewLog(nil)
	for _, text := range []string{"a", "b", "c"} {
		log.Append(SenderUser, text, ModalityText)
	}

	collect := func() []string {
		var out []string
		for entry := range log.All() {
			out = append(out, entry.Content)
		}
		return out
	}

	first := collect()
	log.Append(SenderAssistant, "d", ModalityVoice)
	second := collect()

	if len(first) != 3 || len(second) != 4 {
		t.Fatalf("got %d then %d entries, want 3 then 4", len(first), len(second))
	}
	for i, text := range []string{"a", "b", "c", "d"} {
		if second[i] != text {
			t.Errorf("entry %d = %q, want %q", i, second[i], text)
		}
	}

	var seen int
	for range log.All() {
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("early break yielded %d entries", seen)
	}
}
