package docstore

import "sync"

// stream 在独立 goroutine 上按入队顺序投递回调，写入方永远不会被慢消费者阻塞。
type stream struct {
	mu       sync.Mutex
	queue    []func()
	closed   bool
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
	onCancel func()
}

func newStream() *stream {
	s := &stream{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go s.loop()
	return s
}

func (s *stream) push(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *stream) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			fn()
		}
	}
}

func (s *stream) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// watchers 记录按文档与按查询的订阅，两种存储实现共用。
type watchers struct {
	mu      sync.Mutex
	docs    map[string]map[*stream]func(*Snapshot)
	queries map[*stream]queryWatch
}

type queryWatch struct {
	q  Query
	fn func([]*Snapshot)
}

type queryTarget struct {
	s  *stream
	qw queryWatch
}

func newWatchers() *watchers {
	return &watchers{
		docs:    make(map[string]map[*stream]func(*Snapshot)),
		queries: make(map[*stream]queryWatch),
	}
}

func (w *watchers) addDoc(path string, fn func(*Snapshot)) *stream {
	s := newStream()
	w.mu.Lock()
	set := w.docs[path]
	if set == nil {
		set = make(map[*stream]func(*Snapshot))
		w.docs[path] = set
	}
	set[s] = fn
	w.mu.Unlock()
	s.onCancel = func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.docs[path], s)
		if len(w.docs[path]) == 0 {
			delete(w.docs, path)
		}
	}
	return s
}

func (w *watchers) addQuery(q Query, fn func([]*Snapshot)) *stream {
	s := newStream()
	w.mu.Lock()
	w.queries[s] = queryWatch{q: q, fn: fn}
	w.mu.Unlock()
	s.onCancel = func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.queries, s)
	}
	return s
}

// publish 为受 changed 影响的每个订阅读取一次最新状态并入队。调用方负责串行化 publish，
// 以保证同一订阅上的投递顺序与写入顺序一致。
func (w *watchers) publish(changed []string, readDoc func(string) *Snapshot, readQuery func(Query) []*Snapshot) {
	type docTarget struct {
		s  *stream
		fn func(*Snapshot)
	}
	w.mu.Lock()
	docTargets := make(map[string][]docTarget)
	collections := make(map[string]bool)
	for _, p := range changed {
		collections[Parent(p)] = true
		if _, seen := docTargets[p]; seen {
			continue
		}
		for s, fn := range w.docs[p] {
			docTargets[p] = append(docTargets[p], docTarget{s: s, fn: fn})
		}
	}
	var queryTargets []queryTarget
	for s, qw := range w.queries {
		if collections[qw.q.Collection] {
			queryTargets = append(queryTargets, queryTarget{s: s, qw: qw})
		}
	}
	w.mu.Unlock()

	for p, targets := range docTargets {
		snap := readDoc(p)
		if snap == nil {
			continue
		}
		for _, t := range targets {
			fn, cp := t.fn, copySnapshot(snap)
			t.s.push(func() { fn(cp) })
		}
	}
	for _, t := range queryTargets {
		snaps := readQuery(t.qw.q)
		if snaps == nil {
			continue
		}
		fn, cp := t.qw.fn, copySnapshots(snaps)
		t.s.push(func() { fn(cp) })
	}
}

func copySnapshot(s *Snapshot) *Snapshot {
	c := *s
	c.Data = cloneMap(s.Data)
	return &c
}

func copySnapshots(in []*Snapshot) []*Snapshot {
	out := make([]*Snapshot, len(in))
	for i, s := range in {
		out[i] = copySnapshot(s)
	}
	return out
}
