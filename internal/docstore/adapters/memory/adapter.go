// Package memory implementa el tier volátil: un document store en memoria
// de proceso. Los stores con el mismo nombre comparten datos dentro del
// proceso hasta que se destruyen; nada sobrevive a un reinicio.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
)

func init() {
	docstore.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

func (a *memoryAdapter) Open(_ context.Context, d docstore.Descriptor) (docstore.Store, error) {
	return &Store{db: shared(d.Name, d.Options.AutoCompaction), name: d.Name, poll: d.Options.PollInterval}, nil
}

var (
	dbsMu sync.Mutex
	dbs   = map[string]*database{}
)

func shared(name string, autoCompaction bool) *database {
	dbsMu.Lock()
	defer dbsMu.Unlock()
	db, ok := dbs[name]
	if !ok {
		db = newDatabase(autoCompaction)
		dbs[name] = db
	}
	return db
}

type entry struct {
	doc docstore.Doc
	seq int64
}

type logEntry struct {
	seq int64
	id  string
}

type database struct {
	mu             sync.RWMutex
	docs           map[string]*entry
	log            []logEntry
	stale          int
	seq            int64
	checkpoints    map[string]string
	autoCompaction bool
	notify         *docstore.Notifier
}

func newDatabase(autoCompaction bool) *database {
	return &database{
		docs:           map[string]*entry{},
		checkpoints:    map[string]string{},
		autoCompaction: autoCompaction,
		notify:         docstore.NewNotifier(),
	}
}

// commit registra la nueva revisión; requiere db.mu tomado en escritura.
func (db *database) commit(doc docstore.Doc) {
	db.seq++
	if _, ok := db.docs[doc.ID]; ok {
		db.stale++
	}
	db.docs[doc.ID] = &entry{doc: doc, seq: db.seq}
	db.log = append(db.log, logEntry{seq: db.seq, id: doc.ID})
	if db.autoCompaction && db.stale > 64 && db.stale*2 > len(db.log) {
		db.compact()
	}
}

// compact descarta entradas del log superadas por una escritura posterior.
func (db *database) compact() {
	out := db.log[:0]
	for _, le := range db.log {
		if e, ok := db.docs[le.id]; ok && e.seq == le.seq {
			out = append(out, le)
		}
	}
	db.log = out
	db.stale = 0
}

// Store es un handle sobre una base compartida.
type Store struct {
	db     *database
	name   string
	poll   time.Duration
	mu     sync.RWMutex
	closed bool
}

func (s *Store) Name() string { return s.name }

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return nil
}

func (s *Store) Info(ctx context.Context) (docstore.Info, error) {
	if err := s.check(); err != nil {
		return docstore.Info{}, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	n := 0
	for _, e := range s.db.docs {
		if !e.doc.Deleted {
			n++
		}
	}
	return docstore.Info{Name: s.name, Adapter: "memory", DocCount: n, UpdateSeq: strconv.FormatInt(s.db.seq, 10)}, nil
}

func (s *Store) Get(ctx context.Context, id string) (docstore.Doc, error) {
	if err := s.check(); err != nil {
		return docstore.Doc{}, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	e, ok := s.db.docs[id]
	if !ok || e.doc.Deleted {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	return cloneDoc(e.doc), nil
}

func (s *Store) Put(ctx context.Context, doc docstore.Doc) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	s.db.mu.Lock()
	var cur *docstore.Doc
	if e, ok := s.db.docs[doc.ID]; ok {
		cur = &e.doc
	}
	rev, err := docstore.CheckWrite(cur, doc)
	if err != nil {
		s.db.mu.Unlock()
		return "", err
	}
	doc = cloneDoc(doc)
	doc.Rev = rev
	s.db.commit(doc)
	s.db.mu.Unlock()
	s.db.notify.Broadcast()
	return rev, nil
}

func (s *Store) BulkReplicate(ctx context.Context, docs []docstore.Doc) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	s.db.mu.Lock()
	n := 0
	for _, d := range docs {
		var cur *docstore.Doc
		if e, ok := s.db.docs[d.ID]; ok {
			cur = &e.doc
		}
		if !docstore.ShouldReplicate(cur, d) {
			continue
		}
		s.db.commit(cloneDoc(d))
		n++
	}
	s.db.mu.Unlock()
	if n > 0 {
		s.db.notify.Broadcast()
	}
	return n, nil
}

func (s *Store) AllDocs(ctx context.Context) ([]docstore.Doc, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	out := make([]docstore.Doc, 0, len(s.db.docs))
	for _, e := range s.db.docs {
		if !e.doc.Deleted {
			out = append(out, cloneDoc(e.doc))
		}
	}
	s.db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Changes(ctx context.Context, since string, limit int) (docstore.ChangesPage, error) {
	if err := s.check(); err != nil {
		return docstore.ChangesPage{}, err
	}
	from, err := parseSeq(since)
	if err != nil {
		return docstore.ChangesPage{}, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	if since == docstore.SinceNow {
		from = s.db.seq
	}
	// El log está ordenado por seq: búsqueda binaria del primer seq > from.
	i := sort.Search(len(s.db.log), func(i int) bool { return s.db.log[i].seq > from })
	page := docstore.ChangesPage{LastSeq: strconv.FormatInt(from, 10)}
	for ; i < len(s.db.log); i++ {
		le := s.db.log[i]
		e, ok := s.db.docs[le.id]
		if !ok || e.seq != le.seq {
			continue
		}
		seq := strconv.FormatInt(le.seq, 10)
		page.Results = append(page.Results, docstore.Change{
			Seq: seq, ID: e.doc.ID, Rev: e.doc.Rev, Deleted: e.doc.Deleted, Doc: cloneDoc(e.doc),
		})
		page.LastSeq = seq
		if limit > 0 && len(page.Results) >= limit {
			break
		}
	}
	return page, nil
}

func (s *Store) Watch(ctx context.Context, since string, fn func(docstore.Change) error) error {
	if err := s.check(); err != nil {
		return err
	}
	return docstore.Follow(ctx, s, since, s.pollInterval(), s.db.notify.Wait, fn)
}

func (s *Store) pollInterval() time.Duration {
	if s.poll > 0 {
		return s.poll
	}
	return time.Second
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	seq, ok := s.db.checkpoints[id]
	if !ok {
		return "", docstore.ErrNotFound
	}
	return seq, nil
}

func (s *Store) PutCheckpoint(ctx context.Context, id, seq string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.checkpoints[id] = seq
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Destroy borra la base compartida; otros handles con el mismo nombre
// quedan apuntando a datos huérfanos.
func (s *Store) Destroy(ctx context.Context) error {
	dbsMu.Lock()
	if dbs[s.name] == s.db {
		delete(dbs, s.name)
	}
	dbsMu.Unlock()
	s.db.mu.Lock()
	s.db.docs = map[string]*entry{}
	s.db.log = nil
	s.db.checkpoints = map[string]string{}
	s.db.mu.Unlock()
	return s.Close()
}

func parseSeq(since string) (int64, error) {
	switch since {
	case "", "0", docstore.SinceNow:
		return 0, nil
	}
	n, err := strconv.ParseInt(since, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func cloneDoc(d docstore.Doc) docstore.Doc {
	if d.Body != nil {
		b := make([]byte, len(d.Body))
		copy(b, d.Body)
		d.Body = b
	}
	return d
}
