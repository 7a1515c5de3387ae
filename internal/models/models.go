package models

import "time"

// 以下为文档存储中的文档结构，json 字段名与集合中的字段一一对应。

// User 对应 users/{uid}。
type User struct {
	UID         string    `json:"-"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Chats       []string  `json:"chats"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UsernameReservation 对应 usernames/{usernameLower}，是用户名的唯一性索引。
type UsernameReservation struct {
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"createdAt"`
}

type MemberDetail struct {
	DisplayName string `json:"displayName"`
}

// Room 对应 rooms/{roomId}。ExpiresAt 创建后不再修改。
type Room struct {
	ID            string                  `json:"-"`
	Name          string                  `json:"name"`
	Passcode      *string                 `json:"passcode"`
	CreatedAt     time.Time               `json:"createdAt"`
	ExpiresAt     time.Time               `json:"expiresAt"`
	CreatedBy     string                  `json:"createdBy"`
	Members       []string                `json:"members"`
	MemberDetails map[string]MemberDetail `json:"memberDetails"`
}

func (r *Room) IsPrivate() bool { return r.Passcode != nil && *r.Passcode != "" }

// Expired 按 now > expiresAt 判断。
func (r *Room) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

func (r *Room) HasMember(uid string) bool {
	for _, m := range r.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// RoomMessage 对应 rooms/{roomId}/messages/{msgId}。
type RoomMessage struct {
	ID         string    `json:"-"`
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	CreatedAt  time.Time `json:"createdAt"`
}

type LastMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat 对应 chats/{chatId}，Participants 恰好两个 uid。
type Chat struct {
	ID            string       `json:"-"`
	Participants  []string     `json:"participants"`
	CreatedAt     time.Time    `json:"createdAt"`
	LastMessage   *LastMessage `json:"lastMessage"`
	LastMessageAt *time.Time   `json:"lastMessageAt,omitempty"`
}

// Counterpart 返回参与者中不是 self 的一方，不存在时返回空串。
func (c *Chat) Counterpart(self string) string {
	for _, p := range c.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

func (c *Chat) Includes(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// ChatMessage 对应 chats/{chatId}/messages/{msgId}。
type ChatMessage struct {
	ID        string    `json:"-"`
	Text      string    `json:"text"`
	From      string    `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"read"`
	Edited    bool      `json:"edited"`
}

// PresenceStatus 对应 status/{uid}，由外部的在线状态发布方写入。
type PresenceStatus struct {
	State       string    `json:"state"`
	LastChanged time.Time `json:"lastChanged"`
}

// 以下为关系表，由身份提供方与 token 管理使用。

type Account struct {
	UID           string `gorm:"primaryKey;size:64"`
	Email         string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash  string `gorm:"not null"`
	DisplayName   string `gorm:"size:128"`
	PhotoURL      string `gorm:"size:1024"`
	EmailVerified bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActionToken 是邮箱验证与密码重置链接中携带的一次性 token。
type ActionToken struct {
	ID        uint      `gorm:"primaryKey"`
	UID       string    `gorm:"index;size:64;not null"`
	Purpose   string    `gorm:"size:32;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UID       string    `gorm:"index;size:64;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
