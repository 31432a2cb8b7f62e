package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/phuslu/log"
)

// 引擎状态主题，其余主题为集合名
const (
	TopicDoorprizeState = "doorprize_state"
	TopicAwardState     = "award_state"
)

// Message 推送给订阅者的消息
type Message struct {
	Topic string    `json:"topic"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

type Handler func(Message)

// Hub 按主题分发集合快照与引擎状态
type Hub struct {
	store store.Store

	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	last   map[string]Message
}

func NewHub(s store.Store) *Hub {
	return &Hub{
		store: s,
		subs:  make(map[string]map[uint64]Handler),
		last:  make(map[string]Message),
	}
}

func isStateTopic(topic string) bool {
	return topic == TopicDoorprizeState || topic == TopicAwardState
}

// Subscribe 订阅主题，立即推送一次当前快照，返回取消订阅函数
func (h *Hub) Subscribe(ctx context.Context, topic string, fn Handler) (func(), error) {
	var initial *Message
	if isStateTopic(topic) {
		h.mu.RLock()
		if m, ok := h.last[topic]; ok {
			initial = &m
		}
		h.mu.RUnlock()
	} else {
		m, err := h.collectionMessage(ctx, topic)
		if err != nil {
			return nil, err
		}
		initial = &m
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]Handler)
	}
	h.subs[topic][id] = fn
	h.mu.Unlock()

	if initial != nil {
		fn(*initial)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[topic], id)
			if len(h.subs[topic]) == 0 {
				delete(h.subs, topic)
			}
		})
	}, nil
}

// Notify 集合变更后重新读取集合并推送，没有订阅者时跳过
func (h *Hub) Notify(ctx context.Context, event model.ChangeEvent) {
	if h.subscriberCount(event.Collection) == 0 {
		return
	}
	m, err := h.collectionMessage(ctx, event.Collection)
	if err != nil {
		log.Warn().Err(err).Str("collection", event.Collection).Msg("读取变更集合失败")
		return
	}
	h.deliver(m)
}

// Publish 推送引擎状态并记录为最新快照
func (h *Hub) Publish(topic string, data any) {
	m := Message{Topic: topic, Data: data, At: time.Now().UTC()}
	h.mu.Lock()
	h.last[topic] = m
	h.mu.Unlock()
	h.deliver(m)
}

func (h *Hub) subscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) deliver(m Message) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.subs[m.Topic]))
	for _, fn := range h.subs[m.Topic] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(m)
	}
}

func (h *Hub) collectionMessage(ctx context.Context, collection string) (Message, error) {
	docs, err := h.store.GetAll(ctx, collection)
	if err != nil {
		return Message{}, fmt.Errorf("读取集合 %s 失败: %w", collection, err)
	}
	items := make([]store.Fields, 0, len(docs))
	for _, d := range docs {
		items = append(items, store.Merge(d.Fields, store.Fields{"id": d.ID}))
	}
	return Message{Topic: collection, Data: items, At: time.Now().UTC()}, nil
}
