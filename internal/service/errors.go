package service

import (
	"errors"
	"fmt"

	"github.com/vivek5200/Temp-Chat/internal/docstore"
)

// Kind 是错误的大类，handler 根据它映射 HTTP 状态码。
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindState
	KindPermission
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindPermission:
		return "permission"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error 是面向调用方的业务错误。Action 是可选的补救动作，例如 "resend_verification"。
type Error struct {
	Kind    Kind
	Message string
	Action  string
}

func (e *Error) Error() string { return e.Message }

// Is 让同 Kind 同消息的错误互相匹配，便于 Validation 包装后比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == e.Message
}

// 业务层通用错误。
var (
	ErrUsernameTaken      = &Error{Kind: KindConflict, Message: "This username is already taken"}
	ErrEmailInUse         = &Error{Kind: KindConflict, Message: "This email is already registered"}
	ErrWeakPassword       = &Error{Kind: KindValidation, Message: "Password should be at least 6 characters"}
	ErrInvalidEmail       = &Error{Kind: KindValidation, Message: "Please enter a valid email address"}
	ErrInvalidCredentials = &Error{Kind: KindPermission, Message: "Incorrect email or password"}
	ErrEmailNotVerified   = &Error{Kind: KindPermission, Message: "Please verify your email before logging in", Action: "resend_verification"}
	ErrInvalidToken       = &Error{Kind: KindPermission, Message: "This link is invalid or has expired"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Message: "User not found"}

	ErrRoomNotFound   = &Error{Kind: KindNotFound, Message: "Room not found"}
	ErrRoomExpired    = &Error{Kind: KindState, Message: "This room has expired"}
	ErrWrongPasscode  = &Error{Kind: KindPermission, Message: "Incorrect passcode"}
	ErrRoomNameTaken  = &Error{Kind: KindConflict, Message: "A room with this name already exists"}
	ErrRoomNotExpired = &Error{Kind: KindState, Message: "Room has not expired yet"}
	ErrNotMember      = &Error{Kind: KindPermission, Message: "You are not a member of this room"}

	ErrChatNotFound    = &Error{Kind: KindNotFound, Message: "Chat not found"}
	ErrNotParticipant  = &Error{Kind: KindPermission, Message: "You are not a participant of this chat"}
	ErrSelfChat        = &Error{Kind: KindValidation, Message: "You cannot start a chat with yourself"}
	ErrMessageNotFound = &Error{Kind: KindNotFound, Message: "Message not found"}
	ErrNotSender       = &Error{Kind: KindPermission, Message: "Only the sender can change this message"}
)

// Validation 构造参数校验错误。
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf 返回 err 链上第一个 *Error 的 Kind；存储不可用视为 Transient，其余为 Internal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, docstore.ErrUnavailable) {
		return KindTransient
	}
	return KindInternal
}
