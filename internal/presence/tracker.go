// Package presence 只读地观察 status/{uid}，写入由外部的在线状态发布方负责。
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

const StateOnline = "online"

type Presence struct {
	UID         string     `json:"uid"`
	Online      bool       `json:"online"`
	LastChanged *time.Time `json:"lastChanged,omitempty"`
}

type Tracker struct {
	store docstore.Store
}

func NewTracker(store docstore.Store) *Tracker {
	return &Tracker{store: store}
}

func statusPath(uid string) string { return docstore.Doc("status", uid) }

// fromSnapshot 把 state == "online" 映射为在线；文档不存在或无法解析时视为离线。
func fromSnapshot(uid string, snap *docstore.Snapshot) Presence {
	p := Presence{UID: uid}
	if snap == nil || !snap.Exists {
		return p
	}
	var st models.PresenceStatus
	if err := snap.DataTo(&st); err != nil {
		log.Warn().Err(err).Str("uid", uid).Msg("decode presence status")
		return p
	}
	p.Online = st.State == StateOnline
	if !st.LastChanged.IsZero() {
		lc := st.LastChanged
		p.LastChanged = &lc
	}
	return p
}

// Get 读取一次当前状态。
func (t *Tracker) Get(ctx context.Context, uid string) (Presence, error) {
	snap, err := t.store.Get(ctx, statusPath(uid))
	if err != nil {
		return Presence{UID: uid}, err
	}
	return fromSnapshot(uid, snap), nil
}

// Observe 订阅 uid 的在线状态，首次回调为当前状态。调用方负责 Cancel。
func (t *Tracker) Observe(uid string, fn func(Presence)) docstore.Subscription {
	return t.store.WatchDoc(statusPath(uid), func(snap *docstore.Snapshot) {
		fn(fromSnapshot(uid, snap))
	})
}
