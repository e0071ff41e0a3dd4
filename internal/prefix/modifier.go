package prefix

// Modifier computes single entry edits against a FileSource. Offered and
// revoked paths are cut to depth segments first. The caller holds the file's
// lock around every call.
type Modifier struct {
	file  *FileSource
	depth int

	current  *Set
	toAdd    map[string]struct{}
	toRemove map[string]struct{}
}

// NewModifier reads the current entries of file; a missing or unreadable file
// starts from an empty set.
func NewModifier(file *FileSource, depth int) *Modifier {
	m := &Modifier{file: file, depth: depth}
	m.Reset()
	return m
}

// Reset re-reads the file and drops pending edits.
func (m *Modifier) Reset() {
	entries, err := m.file.readEntries()
	if err != nil {
		entries = nil
	}
	m.current = NewSet(entries...)
	m.toAdd = map[string]struct{}{}
	m.toRemove = map[string]struct{}{}
}

// Offer schedules the cut path for addition unless it is already covered.
func (m *Modifier) Offer(path string) {
	e := Cut(path, m.depth)
	if m.current.Covers(e) {
		return
	}
	delete(m.toRemove, e)
	m.toAdd[e] = struct{}{}
}

// Revoke schedules removal of the exact cut entry, if present.
func (m *Modifier) Revoke(path string) {
	e := Cut(path, m.depth)
	if !m.current.Contains(e) {
		delete(m.toAdd, e)
		return
	}
	m.toRemove[e] = struct{}{}
}

func (m *Modifier) HasChanges() bool {
	return len(m.toAdd) > 0 || len(m.toRemove) > 0
}

// Entries returns the entry list with pending edits applied.
func (m *Modifier) Entries() []string {
	out := make([]string, 0, m.current.Len()+len(m.toAdd))
	for _, e := range m.current.Entries() {
		if _, drop := m.toRemove[e]; !drop {
			out = append(out, e)
		}
	}
	for e := range m.toAdd {
		out = append(out, e)
	}
	return NewSet(out...).Entries()
}

// Apply writes the edited entries and reports whether the file changed. It
// must run under the file's update lock.
func (m *Modifier) Apply() (bool, error) {
	if !m.HasChanges() {
		return false, nil
	}
	changed, err := m.file.writeEntries(m.Entries())
	if err != nil {
		return false, err
	}
	m.Reset()
	return changed, nil
}
