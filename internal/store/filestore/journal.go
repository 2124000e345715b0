package filestore

type stagedWrite struct {
	path    string
	payload []byte
}

type priorRecord struct {
	path    string
	payload []byte
	existed bool
}

// journal keeps writes in call order; a repeated path keeps its first slot.
type journal struct {
	writes []stagedWrite
	index  map[string]int
}

func newJournal() *journal {
	return &journal{index: make(map[string]int)}
}

func (journal *journal) stage(path string, payload []byte) {
	if position, ok := journal.index[path]; ok {
		journal.writes[position].payload = payload
		return
	}
	journal.index[path] = len(journal.writes)
	journal.writes = append(journal.writes, stagedWrite{path: path, payload: payload})
}

func (journal *journal) lookup(path string) ([]byte, bool) {
	position, ok := journal.index[path]
	if !ok {
		return nil, false
	}
	return journal.writes[position].payload, true
}
