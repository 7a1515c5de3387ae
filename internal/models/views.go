package models

// 文档 id 不写入文档本身，返回给客户端时由下面的视图补上。

type RoomMessageView struct {
	ID string `json:"id"`
	*RoomMessage
}

type ChatMessageView struct {
	ID string `json:"id"`
	*ChatMessage
}

func RoomMessageViews(msgs []*RoomMessage) []RoomMessageView {
	out := make([]RoomMessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, RoomMessageView{ID: m.ID, RoomMessage: m})
	}
	return out
}

func ChatMessageViews(msgs []*ChatMessage) []ChatMessageView {
	out := make([]ChatMessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessageView{ID: m.ID, ChatMessage: m})
	}
	return out
}
