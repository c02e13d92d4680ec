package crew

import "sync"

// MemoryEntry is the recorded output of one task within a run.
type MemoryEntry struct {
	Task   *Task
	Agent  string
	Output string
}

// ShortTermMemory holds the task outputs of a single kickoff. It is created
// per run and discarded when the run ends.
type ShortTermMemory struct {
	mu      sync.RWMutex
	entries []MemoryEntry
}

// NewShortTermMemory creates an empty memory.
func NewShortTermMemory() *ShortTermMemory {
	return &ShortTermMemory{}
}

// Save records the output of task.
func (m *ShortTermMemory) Save(task *Task, agent, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, MemoryEntry{Task: task, Agent: agent, Output: output})
}

// Lookup returns the recorded output of task.
func (m *ShortTermMemory) Lookup(task *Task) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Task == task {
			return m.entries[i].Output, true
		}
	}
	return "", false
}

// Entries returns the recorded outputs in execution order.
func (m *ShortTermMemory) Entries() []MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]MemoryEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
