// Package docstore 提供文档型存储抽象：按集合组织的 JSON 文档、单文档/多文档事务、有界批量写入，
// 以及按文档或按查询的实时变更订阅。MemoryStore 用于测试与本地开发，GormStore 落在 Postgres/SQLite 上。
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxBatchSize 是单个批量写入允许的最大操作数。
const MaxBatchSize = 500

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrUnavailable   = errors.New("docstore: store unavailable")
	ErrBatchTooLarge = errors.New("docstore: batch exceeds max size")
	ErrInvalidPath   = errors.New("docstore: invalid document path")
)

// Store 是核心逻辑依赖的全部存储能力。
type Store interface {
	Get(ctx context.Context, path string) (*Snapshot, error)
	Create(ctx context.Context, path string, data any) error
	Set(ctx context.Context, path string, data any) error
	Update(ctx context.Context, path string, updates ...Update) error
	// Delete 以文档是否存在为条件删除；文档不存在时返回 (false, nil)。
	Delete(ctx context.Context, path string) (bool, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Batch() Batch
	WatchDoc(path string, fn func(*Snapshot)) Subscription
	WatchQuery(q Query, fn func([]*Snapshot)) Subscription
	NewID() string
}

// Tx 在事务内读取已提交状态并缓冲写入；写入在 fn 返回 nil 后一并提交。
// Create 的存在性检查在提交时进行。
type Tx interface {
	Get(path string) (*Snapshot, error)
	Create(path string, data any) error
	Set(path string, data any) error
	Update(path string, updates ...Update) error
	Delete(path string) error
}

// Batch 是原子提交的写入集合，最多 MaxBatchSize 个操作。
type Batch interface {
	Create(path string, data any)
	Set(path string, data any)
	Update(path string, updates ...Update)
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}

// Subscription 是实时订阅的句柄。Cancel 可重复调用，返回后不会再开始新的回调。
type Subscription interface {
	Cancel()
}

// Snapshot 是某一时刻的文档内容。
type Snapshot struct {
	Path       string
	ID         string
	Exists     bool
	Data       map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo 把文档内容解码到 v。
func (s *Snapshot) DataTo(v any) error {
	if !s.Exists {
		return ErrNotFound
	}
	b, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Update 描述一次字段级合并写入。Path 使用点号访问嵌套 map，例如 "memberDetails.<uid>"。
type Update struct {
	Path  string
	Value any
}

type arrayUnion struct{ elems []any }
type arrayRemove struct{ elems []any }
type deleteField struct{}
type serverTimestamp struct{}

// ArrayUnion 把不存在的元素追加到数组字段，重复写入是幂等的。
func ArrayUnion(elems ...any) any { return arrayUnion{elems: elems} }

// ArrayRemove 从数组字段中移除所有相等的元素。
func ArrayRemove(elems ...any) any { return arrayRemove{elems: elems} }

// DeleteField 作为 Update.Value 时删除该字段。
var DeleteField any = deleteField{}

// ServerTimestamp 作为 Update.Value 时写入存储侧的提交时间。
var ServerTimestamp any = serverTimestamp{}

// Op 是查询过滤操作符。
type Op string

const (
	Eq            Op = "=="
	Lt            Op = "<"
	Lte           Op = "<="
	Gt            Op = ">"
	Gte           Op = ">="
	ArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Query 针对单个集合；过滤条件之间为 AND 关系。
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// From 开始一个集合查询。
func From(collection string) Query { return Query{Collection: collection} }

func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy, q.Desc = field, desc
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Doc 拼接文档路径，例如 Doc("rooms", id) 或 Doc(Collection(room, "messages"), msgID)。
func Doc(collection, id string) string { return collection + "/" + id }

// Collection 返回文档下的子集合路径。
func Collection(docPath, name string) string { return docPath + "/" + name }

// ID 返回路径的最后一段。
func ID(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Parent 返回文档所在集合的路径。
func Parent(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

func validDocPath(path string) bool {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func newID() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
