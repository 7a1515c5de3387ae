package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// encode 把任意可 JSON 序列化的值转换成文档 map。
func encode(data any) (map[string]any, error) {
	v, err := normalize(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("docstore: document data must be an object, got %T", v)
	}
	return m, nil
}

// normalize 通过 JSON 往返把值转换为 map/[]any/float64/string/bool/nil 组成的规范形式。
func normalize(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = clone(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = clone(x)
		}
		return s
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return clone(m).(map[string]any)
}

// applyUpdates 在 doc 上就地执行字段级合并。
func applyUpdates(doc map[string]any, updates []Update, now time.Time) error {
	for _, u := range updates {
		if u.Path == "" {
			return fmt.Errorf("docstore: empty update path")
		}
		keys := strings.Split(u.Path, ".")
		parent := doc
		for _, k := range keys[:len(keys)-1] {
			next, ok := parent[k].(map[string]any)
			if !ok {
				next = map[string]any{}
				parent[k] = next
			}
			parent = next
		}
		last := keys[len(keys)-1]
		switch v := u.Value.(type) {
		case deleteField:
			delete(parent, last)
		case serverTimestamp:
			parent[last] = now.UTC().Format(time.RFC3339Nano)
		case arrayUnion:
			cur, _ := parent[last].([]any)
			cur = append([]any(nil), cur...)
			for _, e := range v.elems {
				ne, err := normalize(e)
				if err != nil {
					return err
				}
				if !containsValue(cur, ne) {
					cur = append(cur, ne)
				}
			}
			parent[last] = cur
		case arrayRemove:
			cur, _ := parent[last].([]any)
			kept := make([]any, 0, len(cur))
			for _, x := range cur {
				drop := false
				for _, e := range v.elems {
					ne, err := normalize(e)
					if err != nil {
						return err
					}
					if c, ok := compare(x, ne); ok && c == 0 {
						drop = true
						break
					}
				}
				if !drop {
					kept = append(kept, x)
				}
			}
			parent[last] = kept
		default:
			nv, err := normalize(u.Value)
			if err != nil {
				return err
			}
			parent[last] = nv
		}
	}
	return nil
}

func containsValue(list []any, v any) bool {
	for _, x := range list {
		if c, ok := compare(x, v); ok && c == 0 {
			return true
		}
	}
	return false
}

// compare 比较两个规范化后的值。RFC3339 字符串按时间比较。
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
		return -1, true
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		if tx, err := time.Parse(time.RFC3339Nano, x); err == nil {
			if ty, err := time.Parse(time.RFC3339Nano, y); err == nil {
				return tx.Compare(ty), true
			}
		}
		return strings.Compare(x, y), true
	}
	if b == nil {
		return 1, true
	}
	return 0, false
}

func lookup(doc map[string]any, field string) (any, bool) {
	var cur any = doc
	for _, k := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matches(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		want, err := normalize(f.Value)
		if err != nil {
			return false
		}
		got, ok := lookup(doc, f.Field)
		if !ok {
			return false
		}
		if f.Op == ArrayContains {
			list, ok := got.([]any)
			if !ok || !containsValue(list, want) {
				return false
			}
			continue
		}
		c, ok := compare(got, want)
		if !ok {
			return false
		}
		var pass bool
		switch f.Op {
		case Eq:
			pass = c == 0
		case Lt:
			pass = c < 0
		case Lte:
			pass = c <= 0
		case Gt:
			pass = c > 0
		case Gte:
			pass = c >= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// runQuery 对同一集合的候选文档执行过滤、排序与截断。没有排序字段时按路径排序以保证结果稳定。
func runQuery(q Query, docs []*Snapshot) []*Snapshot {
	out := make([]*Snapshot, 0, len(docs))
	for _, d := range docs {
		if matches(d.Data, q.Filters) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			a, _ := lookup(out[i].Data, q.OrderBy)
			b, _ := lookup(out[j].Data, q.OrderBy)
			if c, ok := compare(a, b); ok && c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].Path < out[j].Path
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

type opKind int

const (
	opCreate opKind = iota
	opSet
	opUpdate
	opDelete
)

type write struct {
	op      opKind
	path    string
	data    map[string]any
	updates []Update
}

// writeSet 收集事务与批量写入的操作，两种存储实现共用。
type writeSet struct {
	writes []write
	err    error
}

func (w *writeSet) add(op opKind, path string, data any, updates []Update) error {
	if w.err != nil {
		return w.err
	}
	if !validDocPath(path) {
		w.err = fmt.Errorf("%w: %q", ErrInvalidPath, path)
		return w.err
	}
	wr := write{op: op, path: path, updates: updates}
	if op == opCreate || op == opSet {
		m, err := encode(data)
		if err != nil {
			w.err = err
			return err
		}
		wr.data = m
	}
	w.writes = append(w.writes, wr)
	return nil
}

func (w *writeSet) Create(path string, data any)          { _ = w.add(opCreate, path, data, nil) }
func (w *writeSet) Set(path string, data any)             { _ = w.add(opSet, path, data, nil) }
func (w *writeSet) Update(path string, updates ...Update) { _ = w.add(opUpdate, path, nil, updates) }
func (w *writeSet) Delete(path string)                    { _ = w.add(opDelete, path, nil, nil) }
func (w *writeSet) Len() int                              { return len(w.writes) }

func (w *writeSet) ready() error {
	if w.err != nil {
		return w.err
	}
	if len(w.writes) > MaxBatchSize {
		return fmt.Errorf("%w: %d operations", ErrBatchTooLarge, len(w.writes))
	}
	return nil
}

func paths(writes []write) []string {
	out := make([]string, 0, len(writes))
	for _, w := range writes {
		out = append(out, w.path)
	}
	return out
}
