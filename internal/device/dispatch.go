package device

// ActionID names one update action.
type ActionID string

// Table maps each property key to the ordered update actions its changes
// trigger. The table is data, not logic: entries can be replaced or removed
// per deployment without touching the resolution code.
type Table struct {
	entries map[PropKey][]ActionID
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{entries: make(map[PropKey][]ActionID)}
}

// Set replaces the action list for key.
func (t *Table) Set(key PropKey, actions ...ActionID) {
	t.entries[key] = actions
}

// Remove drops the entry for key; its changes then trigger nothing.
func (t *Table) Remove(key PropKey) {
	delete(t.entries, key)
}

// Actions returns the action list for key.
func (t *Table) Actions(key PropKey) []ActionID {
	return t.entries[key]
}

// Resolve unions the action lists of the changed keys, preserving first-seen
// order and dropping duplicates, so an action triggered by several keys in
// the same cycle fires exactly once.
func (t *Table) Resolve(changed []PropKey) []ActionID {
	var resolved []ActionID
	seen := make(map[ActionID]bool)
	for _, key := range changed {
		for _, id := range t.entries[key] {
			if seen[id] {
				continue
			}
			seen[id] = true
			resolved = append(resolved, id)
		}
	}
	return resolved
}
