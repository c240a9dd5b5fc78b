package counter

// seenWindow remembers the ids of the current and the previous page. Older
// pages are forgotten so memory stays bounded on long histories.
type seenWindow struct {
	current  map[string]struct{}
	previous map[string]struct{}
}

func newSeenWindow() *seenWindow {
	return &seenWindow{current: make(map[string]struct{})}
}

// next starts a new page.
func (w *seenWindow) next() {
	w.previous = w.current
	w.current = make(map[string]struct{})
}

// add records id and reports false if it was already seen.
func (w *seenWindow) add(id string) bool {
	if _, ok := w.current[id]; ok {
		return false
	}
	if _, ok := w.previous[id]; ok {
		return false
	}
	w.current[id] = struct{}{}
	return true
}
