package uploader

import (
	"sync"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
)

// Hub 向所有观察者广播完整的任务记录快照
// 订阅时立即推送当前全量快照，晚接入的观察者（例如新打开的管理页）
// 不需要等待下一次状态变化
type Hub struct {
	mu     sync.Mutex
	subs   map[chan []models.UploadRecord]struct{}
	closed bool
}

// NewHub 创建广播器
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []models.UploadRecord]struct{})}
}

// Subscribe 注册一个观察者，snapshot 会被立即投递
// 返回的取消函数负责注销并关闭通道
func (h *Hub) Subscribe(snapshot []models.UploadRecord) (<-chan []models.UploadRecord, func()) {
	ch := make(chan []models.UploadRecord, 1)
	ch <- snapshot

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish 向所有观察者投递最新快照
// 慢观察者只会丢掉中间快照（最新值覆盖），绝不阻塞状态机
func (h *Hub) Publish(records []models.UploadRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- records:
		default:
			// 丢弃未消费的旧快照，换上最新的
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- records:
			default:
			}
		}
	}
}

// Close 关闭所有订阅通道
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
