package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vivek5200/Temp-Chat/internal/clock"
)

// document 是 GormStore 的存储行，Data 保存 JSON 文本以兼容 Postgres 与 SQLite。
type document struct {
	Path       string `gorm:"primaryKey;size:512"`
	Collection string `gorm:"index;size:512;not null"`
	Data       string `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (document) TableName() string { return "documents" }

// GormStore 把文档存放在关系库的单表中。事务映射为 gorm 事务，Create 由主键唯一约束兜底；
// 变更通知在提交成功后于本进程内发布，配置 Relay 时同时广播给其他进程。
type GormStore struct {
	db       *gorm.DB
	clk      clock.Clock
	watch    *watchers
	notifyMu sync.Mutex
	relay    *Relay
}

func NewGormStore(db *gorm.DB, clk clock.Clock) *GormStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &GormStore{db: db, clk: clk, watch: newWatchers()}
}

// Migrate 创建 documents 表。
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&document{})
}

// UseRelay 开始向 r 广播本进程的变更，并接收其他进程的变更通知，直到 ctx 结束。
func (s *GormStore) UseRelay(ctx context.Context, r *Relay) {
	s.relay = r
	go func() {
		if err := r.Run(ctx, s.notifyLocal); err != nil {
			log.Error().Err(err).Msg("docstore relay stopped")
		}
	}()
}

func (s *GormStore) NewID() string { return newID() }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func toSnapshot(d *document) (*Snapshot, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(d.Data), &data); err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", d.Path, err)
	}
	return &Snapshot{Path: d.Path, ID: ID(d.Path), Exists: true, Data: data, CreateTime: d.CreatedAt, UpdateTime: d.UpdatedAt}, nil
}

func getDoc(db *gorm.DB, path string, lock bool) (*Snapshot, error) {
	if !validDocPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var d document
	res := q.Where("path = ?", path).Limit(1).Find(&d)
	if res.Error != nil {
		return nil, unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return &Snapshot{Path: path, ID: ID(path)}, nil
	}
	return toSnapshot(&d)
}

func (s *GormStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	return getDoc(s.db.WithContext(ctx), path, false)
}

func (s *GormStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	var rows []document
	if err := s.db.WithContext(ctx).Where("collection = ?", q.Collection).Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	docs := make([]*Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := toSnapshot(&rows[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, snap)
	}
	return runQuery(q, docs), nil
}

func (s *GormStore) Create(ctx context.Context, path string, data any) error {
	return s.single(ctx, opCreate, path, data, nil)
}

func (s *GormStore) Set(ctx context.Context, path string, data any) error {
	return s.single(ctx, opSet, path, data, nil)
}

func (s *GormStore) Update(ctx context.Context, path string, updates ...Update) error {
	return s.single(ctx, opUpdate, path, nil, updates)
}

func (s *GormStore) Delete(ctx context.Context, path string) (bool, error) {
	if !validDocPath(path) {
		return false, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	res := s.db.WithContext(ctx).Where("path = ?", path).Delete(&document{})
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	s.publish([]string{path})
	return res.RowsAffected > 0, nil
}

func (s *GormStore) single(ctx context.Context, op opKind, path string, data any, updates []Update) error {
	var ws writeSet
	if err := ws.add(op, path, data, updates); err != nil {
		return err
	}
	return s.commit(ctx, ws.writes)
}

func (s *GormStore) commit(ctx context.Context, writes []write) error {
	now := s.clk.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyWrites(tx, writes, now)
	})
	if err != nil {
		return err
	}
	s.publish(paths(writes))
	return nil
}

func (s *GormStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var committed []write
	now := s.clk.Now()
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx := &gormTx{db: db}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.ready(); err != nil {
			return err
		}
		committed = tx.writes
		return applyWrites(db, tx.writes, now)
	})
	if err != nil {
		return err
	}
	s.publish(paths(committed))
	return nil
}

func (s *GormStore) Batch() Batch { return &gormBatch{s: s} }

func applyWrites(tx *gorm.DB, writes []write, now time.Time) error {
	for _, w := range writes {
		switch w.op {
		case opCreate:
			var n int64
			if err := tx.Model(&document{}).Where("path = ?", w.path).Count(&n).Error; err != nil {
				return unavailable(err)
			}
			if n > 0 {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
			}
			b, err := json.Marshal(w.data)
			if err != nil {
				return err
			}
			row := document{Path: w.path, Collection: Parent(w.path), Data: string(b), CreatedAt: now, UpdatedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: %s", ErrAlreadyExists, w.path)
				}
				return unavailable(err)
			}
		case opSet:
			b, err := json.Marshal(w.data)
			if err != nil {
				return err
			}
			row := document{Path: w.path, Collection: Parent(w.path), Data: string(b), CreatedAt: now, UpdatedAt: now}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "path"}},
				DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return unavailable(err)
			}
		case opUpdate:
			cur, err := getDoc(tx, w.path, true)
			if err != nil {
				return err
			}
			if !cur.Exists {
				return fmt.Errorf("%w: %s", ErrNotFound, w.path)
			}
			if err := applyUpdates(cur.Data, w.updates, now); err != nil {
				return err
			}
			b, err := json.Marshal(cur.Data)
			if err != nil {
				return err
			}
			err = tx.Model(&document{}).Where("path = ?", w.path).
				Updates(map[string]any{"data": string(b), "updated_at": now}).Error
			if err != nil {
				return unavailable(err)
			}
		case opDelete:
			if err := tx.Where("path = ?", w.path).Delete(&document{}).Error; err != nil {
				return unavailable(err)
			}
		}
	}
	return nil
}

func (s *GormStore) publish(changed []string) {
	s.notifyLocal(changed)
	if s.relay != nil {
		if err := s.relay.Publish(context.Background(), changed); err != nil {
			log.Warn().Err(err).Int("paths", len(changed)).Msg("docstore relay publish")
		}
	}
}

func (s *GormStore) notifyLocal(changed []string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.watch.publish(changed, s.readDoc, s.readQuery)
}

func (s *GormStore) readDoc(path string) *Snapshot {
	snap, err := s.Get(context.Background(), path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("docstore watch read")
		return nil
	}
	return snap
}

func (s *GormStore) readQuery(q Query) []*Snapshot {
	snaps, err := s.Query(context.Background(), q)
	if err != nil {
		log.Warn().Err(err).Str("collection", q.Collection).Msg("docstore watch query")
		return nil
	}
	return snaps
}

func (s *GormStore) WatchDoc(path string, fn func(*Snapshot)) Subscription {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	st := s.watch.addDoc(path, fn)
	if initial := s.readDoc(path); initial != nil {
		st.push(func() { fn(initial) })
	}
	return st
}

func (s *GormStore) WatchQuery(q Query, fn func([]*Snapshot)) Subscription {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	st := s.watch.addQuery(q, fn)
	if initial := s.readQuery(q); initial != nil {
		st.push(func() { fn(initial) })
	}
	return st
}

type gormTx struct {
	writeSet
	db *gorm.DB
}

func (t *gormTx) Get(path string) (*Snapshot, error) { return getDoc(t.db, path, true) }
func (t *gormTx) Create(path string, data any) error { return t.add(opCreate, path, data, nil) }
func (t *gormTx) Set(path string, data any) error    { return t.add(opSet, path, data, nil) }
func (t *gormTx) Update(path string, updates ...Update) error {
	return t.add(opUpdate, path, nil, updates)
}
func (t *gormTx) Delete(path string) error { return t.add(opDelete, path, nil, nil) }

type gormBatch struct {
	writeSet
	s *GormStore
}

func (b *gormBatch) Commit(ctx context.Context) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.s.commit(ctx, b.writes)
}
