package chatsync

import "sync"

// Canceler 是树上任意节点持有的句柄：存储订阅或进行中的资料读取。
type Canceler interface {
	Cancel()
}

type cancelFunc func()

func (f cancelFunc) Cancel() { f() }

// Tree 显式记录 parent -> children 的归属关系。取消一个节点会先递归取消它的全部子孙。
type Tree struct {
	mu       sync.Mutex
	handles  map[string]Canceler
	parent   map[string]string
	children map[string]map[string]struct{}
}

func NewTree() *Tree {
	return &Tree{
		handles:  make(map[string]Canceler),
		parent:   make(map[string]string),
		children: make(map[string]map[string]struct{}),
	}
}

// Add 在 parent 下挂载 key；parent 为空表示根节点。key 已存在时先取消旧节点及其子树。
// parent 不存在（已被取消）时立即取消 h 并返回 false。
func (t *Tree) Add(parent, key string, h Canceler) bool {
	t.mu.Lock()
	if parent != "" {
		if _, ok := t.handles[parent]; !ok {
			t.mu.Unlock()
			h.Cancel()
			return false
		}
	}
	old := t.detachLocked(key)
	t.handles[key] = h
	t.parent[key] = parent
	if parent != "" {
		set := t.children[parent]
		if set == nil {
			set = make(map[string]struct{})
			t.children[parent] = set
		}
		set[key] = struct{}{}
	}
	t.mu.Unlock()
	cancelAll(old)
	return true
}

func (t *Tree) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handles[key]
	return ok
}

// Children 返回 key 的直接子节点。
func (t *Tree) Children(key string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.children[key]))
	for c := range t.children[key] {
		out = append(out, c)
	}
	return out
}

func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Cancel 取消 key 及其全部子孙，并从索引中移除。返回前所有句柄都已取消。
func (t *Tree) Cancel(key string) {
	t.mu.Lock()
	hs := t.detachLocked(key)
	t.mu.Unlock()
	cancelAll(hs)
}

// CancelAll 取消整棵树。
func (t *Tree) CancelAll() {
	t.mu.Lock()
	var hs []Canceler
	for key, p := range t.parent {
		if p == "" {
			hs = append(hs, t.detachLocked(key)...)
		}
	}
	t.mu.Unlock()
	cancelAll(hs)
}

// detachLocked 以子孙在前、自身在后的顺序收集句柄并移除索引。
func (t *Tree) detachLocked(key string) []Canceler {
	h, ok := t.handles[key]
	if !ok {
		return nil
	}
	var out []Canceler
	for c := range t.children[key] {
		out = append(out, t.detachLocked(c)...)
	}
	delete(t.children, key)
	if p := t.parent[key]; p != "" {
		delete(t.children[p], key)
	}
	delete(t.parent, key)
	delete(t.handles, key)
	return append(out, h)
}

func cancelAll(hs []Canceler) {
	for _, h := range hs {
		h.Cancel()
	}
}
