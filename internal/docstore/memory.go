package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/clock"
)

// MemoryStore 是进程内的 Store 实现。事务之间互斥执行，非事务写入与事务提交共用同一把数据锁，
// 变更通知在数据锁内入队，因此每个订阅看到的顺序与提交顺序一致。
type MemoryStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	docs  map[string]*memDoc
	clk   clock.Clock
	watch *watchers
}

type memDoc struct {
	data    map[string]any
	created time.Time
	updated time.Time
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{docs: make(map[string]*memDoc), clk: clk, watch: newWatchers()}
}

func (m *MemoryStore) NewID() string { return newID() }

func (m *MemoryStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validDocPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(path), nil
}

func (m *MemoryStore) snapshotLocked(path string) *Snapshot {
	d, ok := m.docs[path]
	if !ok {
		return &Snapshot{Path: path, ID: ID(path)}
	}
	return &Snapshot{Path: path, ID: ID(path), Exists: true, Data: cloneMap(d.data), CreateTime: d.created, UpdateTime: d.updated}
}

func (m *MemoryStore) queryLocked(q Query) []*Snapshot {
	var docs []*Snapshot
	for p := range m.docs {
		if Parent(p) == q.Collection {
			docs = append(docs, m.snapshotLocked(p))
		}
	}
	return runQuery(q, docs)
}

func (m *MemoryStore) Create(ctx context.Context, path string, data any) error {
	return m.single(ctx, opCreate, path, data, nil)
}

func (m *MemoryStore) Set(ctx context.Context, path string, data any) error {
	return m.single(ctx, opSet, path, data, nil)
}

func (m *MemoryStore) Update(ctx context.Context, path string, updates ...Update) error {
	return m.single(ctx, opUpdate, path, nil, updates)
}

func (m *MemoryStore) Delete(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !validDocPath(path) {
		return false, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.docs[path]
	if err := m.commitLocked([]write{{op: opDelete, path: path}}); err != nil {
		return false, err
	}
	return existed, nil
}

func (m *MemoryStore) single(ctx context.Context, op opKind, path string, data any, updates []Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var ws writeSet
	if err := ws.add(op, path, data, updates); err != nil {
		return err
	}
	return m.commit(ws.writes)
}

func (m *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(q), nil
}

func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{m: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.ready(); err != nil {
		return err
	}
	return m.commit(tx.writes)
}

func (m *MemoryStore) Batch() Batch { return &memBatch{m: m} }

func (m *MemoryStore) commit(writes []write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(writes)
}

// commitLocked 先校验全部前置条件，再一次性应用所有写入，最后发布变更。
func (m *MemoryStore) commitLocked(writes []write) error {
	now := m.clk.Now()
	staged := make(map[string]*memDoc)
	get := func(p string) (*memDoc, bool) {
		if d, ok := staged[p]; ok {
			return d, d != nil
		}
		d, ok := m.docs[p]
		return d, ok
	}
	for _, w := range writes {
		cur, exists := get(w.path)
		switch w.op {
		case opCreate:
			if exists {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
			}
			staged[w.path] = &memDoc{data: cloneMap(w.data), created: now, updated: now}
		case opSet:
			created := now
			if exists {
				created = cur.created
			}
			staged[w.path] = &memDoc{data: cloneMap(w.data), created: created, updated: now}
		case opUpdate:
			if !exists {
				return fmt.Errorf("%w: %s", ErrNotFound, w.path)
			}
			data := cloneMap(cur.data)
			if err := applyUpdates(data, w.updates, now); err != nil {
				return err
			}
			staged[w.path] = &memDoc{data: data, created: cur.created, updated: now}
		case opDelete:
			staged[w.path] = nil
		}
	}
	for p, d := range staged {
		if d == nil {
			delete(m.docs, p)
			continue
		}
		m.docs[p] = d
	}
	m.watch.publish(paths(writes), m.snapshotLocked, m.queryLocked)
	return nil
}

func (m *MemoryStore) WatchDoc(path string, fn func(*Snapshot)) Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.watch.addDoc(path, fn)
	initial := m.snapshotLocked(path)
	s.push(func() { fn(initial) })
	return s
}

func (m *MemoryStore) WatchQuery(q Query, fn func([]*Snapshot)) Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.watch.addQuery(q, fn)
	initial := m.queryLocked(q)
	s.push(func() { fn(initial) })
	return s
}

type memTx struct {
	writeSet
	m *MemoryStore
}

func (t *memTx) Get(path string) (*Snapshot, error) {
	if !validDocPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.snapshotLocked(path), nil
}

func (t *memTx) Create(path string, data any) error { return t.add(opCreate, path, data, nil) }
func (t *memTx) Set(path string, data any) error    { return t.add(opSet, path, data, nil) }
func (t *memTx) Update(path string, updates ...Update) error {
	return t.add(opUpdate, path, nil, updates)
}
func (t *memTx) Delete(path string) error { return t.add(opDelete, path, nil, nil) }

type memBatch struct {
	writeSet
	m *MemoryStore
}

func (b *memBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.ready(); err != nil {
		return err
	}
	return b.m.commit(b.writes)
}
