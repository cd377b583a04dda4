package cli

import (
	"fmt"

	"nexchat/internal/model"
)

// formatMessage 单行展示一条消息
func formatMessage(m model.Message, selfID string) string {
	name := m.Username
	switch {
	case m.Sender == model.SenderAI:
		name = "🤖 " + name
	case m.UserID == selfID:
		name += " (我)"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04"), name, m.Message)
}

// view 记录已经输出过的消息，每次只输出变化的部分
type view struct {
	shown map[int64]string // id -> 已输出的文本
}

func newView() *view {
	return &view{shown: make(map[int64]string)}
}

func (v *view) reset() {
	v.shown = make(map[int64]string)
}

// render 对比当前列表与已输出的内容
// 新行原样输出，文本变化的行标记为已编辑，消失的行输出删除提示
func (v *view) render(msgs []model.Message, selfID string) []string {
	var lines []string
	seen := make(map[int64]struct{}, len(msgs))

	for _, m := range msgs {
		seen[m.ID] = struct{}{}
		prev, ok := v.shown[m.ID]
		switch {
		case !ok:
			lines = append(lines, formatMessage(m, selfID))
		case prev != m.Message:
			lines = append(lines, formatMessage(m, selfID)+" (已编辑)")
		default:
			continue
		}
		v.shown[m.ID] = m.Message
	}

	for id := range v.shown {
		if _, ok := seen[id]; !ok {
			lines = append(lines, fmt.Sprintf("  (消息 #%d 已删除)", id))
			delete(v.shown, id)
		}
	}
	return lines
}
