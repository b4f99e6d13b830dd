package ledger

import (
	"context"
	"sync"

	"bitbucket.org/mmdatafocus/dairy_backend/utils"
	"github.com/google/uuid"
)

// Memory is an in-memory Store used by unit tests and the dev/demo mode.
// Snapshot delivery is coalescing: a slow subscriber always receives the
// latest full-collection snapshot, never a backlog of stale ones.
type Memory struct {
	mu          sync.Mutex
	collections map[Collection]map[string]Document
	insertSeq   map[Collection][]string
	subs        map[Collection]map[int]*memorySubscriber
	nextSubID   int
}

type memorySubscriber struct {
	snapshots chan []Document
	done      chan struct{}
	stopped   chan struct{}
}

func NewMemory() *Memory {
	m := &Memory{
		collections: make(map[Collection]map[string]Document),
		insertSeq:   make(map[Collection][]string),
		subs:        make(map[Collection]map[int]*memorySubscriber),
	}
	for _, c := range Collections() {
		m.collections[c] = make(map[string]Document)
		m.subs[c] = make(map[int]*memorySubscriber)
	}
	return m
}

func (m *Memory) ListAll(ctx context.Context, c Collection) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(c), nil
}

func (m *Memory) Get(ctx context.Context, c Collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[c][id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return doc.Clone(), nil
}

func (m *Memory) Insert(ctx context.Context, c Collection, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored["id"] = id
	}
	m.collections[c][id] = stored
	m.insertSeq[c] = append(m.insertSeq[c], id)
	snapshot := m.snapshotLocked(c)
	subs := m.subscribersLocked(c)
	m.mu.Unlock()

	publishSnapshot(subs, snapshot)
	return id, nil
}

func (m *Memory) Update(ctx context.Context, c Collection, id string, partial Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	doc, ok := m.collections[c][id]
	if !ok {
		m.mu.Unlock()
		return utils.ErrorRecordNotFound
	}
	for k, v := range partial.Clone() {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	snapshot := m.snapshotLocked(c)
	subs := m.subscribersLocked(c)
	m.mu.Unlock()

	publishSnapshot(subs, snapshot)
	return nil
}

func (m *Memory) Delete(ctx context.Context, c Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.collections[c][id]; !ok {
		m.mu.Unlock()
		return utils.ErrorRecordNotFound
	}
	delete(m.collections[c], id)
	seq := m.insertSeq[c]
	for i, existing := range seq {
		if existing == id {
			m.insertSeq[c] = append(seq[:i], seq[i+1:]...)
			break
		}
	}
	snapshot := m.snapshotLocked(c)
	subs := m.subscribersLocked(c)
	m.mu.Unlock()

	publishSnapshot(subs, snapshot)
	return nil
}

func (m *Memory) Subscribe(c Collection, onSnapshot func(docs []Document), onError func(err error)) func() {
	sub := &memorySubscriber{
		snapshots: make(chan []Document, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[c][id] = sub
	initial := m.snapshotLocked(c)
	m.mu.Unlock()

	sub.offer(initial)

	go func() {
		defer close(sub.stopped)
		for {
			select {
			case <-sub.done:
				return
			case docs := <-sub.snapshots:
				onSnapshot(docs)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[c], id)
			m.mu.Unlock()
			close(sub.done)
			<-sub.stopped
		})
	}
}

// offer replaces any pending snapshot with the newer one.
func (s *memorySubscriber) offer(docs []Document) {
	for {
		select {
		case s.snapshots <- docs:
			return
		default:
			select {
			case <-s.snapshots:
			default:
			}
		}
	}
}

func publishSnapshot(subs []*memorySubscriber, docs []Document) {
	for _, sub := range subs {
		sub.offer(docs)
	}
}

func (m *Memory) snapshotLocked(c Collection) []Document {
	out := make([]Document, 0, len(m.insertSeq[c]))
	for _, id := range m.insertSeq[c] {
		if doc, ok := m.collections[c][id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out
}

func (m *Memory) subscribersLocked(c Collection) []*memorySubscriber {
	out := make([]*memorySubscriber, 0, len(m.subs[c]))
	for _, sub := range m.subs[c] {
		out = append(out, sub)
	}
	return out
}
