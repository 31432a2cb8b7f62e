package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memCollection struct {
	order []string
	docs  map[string]Fields
}

func (c *memCollection) clone() *memCollection {
	out := &memCollection{
		order: append([]string(nil), c.order...),
		docs:  make(map[string]Fields, len(c.docs)),
	}
	for id, f := range c.docs {
		out.docs[id] = f
	}
	return out
}

func (c *memCollection) put(id string, fields Fields) {
	if _, ok := c.docs[id]; !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = fields
}

func (c *memCollection) remove(id string) {
	if _, ok := c.docs[id]; !ok {
		return
	}
	delete(c.docs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// MemoryStore 进程内文档存储，用于单机演练与测试
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	now         func() time.Time

	// FaultHook 在提交每个操作前调用，返回错误时整个批次回滚
	FaultHook func(i int, op Op) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		now:         time.Now,
	}
}

// SetClock 替换写入时间戳来源
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) GetAll(ctx context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return []Document{}, nil
	}
	docs := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, Document{ID: id, Fields: deepCopy(c.docs[id])})
	}
	return docs, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	f, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return &Document{ID: id, Fields: deepCopy(f)}, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	return s.commit(ctx, []Op{{Kind: OpSet, Collection: collection, ID: id, Fields: fields, Merge: merge}})
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return s.commit(ctx, []Op{{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}})
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.commit(ctx, []Op{{Kind: OpDelete, Collection: collection, ID: id}})
}

func (s *MemoryStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id := uuid.NewString()
	if err := s.commit(ctx, []Op{{Kind: OpAdd, Collection: collection, ID: id, Fields: fields}}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Batch() Batch {
	return NewBatch(s.commit, uuid.NewString)
}

// commit 在副本上应用全部操作，成功后整体替换
func (s *MemoryStore) commit(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	working := make(map[string]*memCollection, len(s.collections))
	for name, c := range s.collections {
		working[name] = c
	}
	cloned := make(map[string]bool)
	target := func(name string) *memCollection {
		if !cloned[name] {
			if c, ok := working[name]; ok {
				working[name] = c.clone()
			} else {
				working[name] = &memCollection{docs: make(map[string]Fields)}
			}
			cloned[name] = true
		}
		return working[name]
	}

	for i, op := range ops {
		if s.FaultHook != nil {
			if err := s.FaultHook(i, op); err != nil {
				return fmt.Errorf("批量写第 %d 个操作(%s %s/%s)失败: %w", i, op.Kind, op.Collection, op.ID, err)
			}
		}

		c := target(op.Collection)
		switch op.Kind {
		case OpSet, OpAdd:
			fields, err := Normalize(op.Fields, now)
			if err != nil {
				return err
			}
			if existing, ok := c.docs[op.ID]; ok && op.Merge {
				fields = Merge(existing, fields)
			}
			c.put(op.ID, fields)
		case OpUpdate:
			existing, ok := c.docs[op.ID]
			if !ok {
				return fmt.Errorf("更新 %s/%s: %w", op.Collection, op.ID, ErrNotFound)
			}
			fields, err := Normalize(op.Fields, now)
			if err != nil {
				return err
			}
			c.put(op.ID, Merge(existing, fields))
		case OpDelete:
			c.remove(op.ID)
		case OpDecrement:
			existing, ok := c.docs[op.ID]
			if !ok {
				return fmt.Errorf("扣减 %s/%s: %w", op.Collection, op.ID, ErrNotFound)
			}
			fields, err := DecrementField(existing, op.Field)
			if err != nil {
				return fmt.Errorf("扣减 %s/%s: %w", op.Collection, op.ID, err)
			}
			c.put(op.ID, fields)
		default:
			return fmt.Errorf("未知操作类型: %s", op.Kind)
		}
	}

	s.collections = working
	return nil
}

func deepCopy(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = copyValue(val)
		}
		return m
	case Fields:
		return deepCopy(t)
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = copyValue(val)
		}
		return s
	default:
		return v
	}
}
