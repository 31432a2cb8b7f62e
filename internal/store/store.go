package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lvdashuaibi/luckydraw/internal/model"
)

var (
	ErrNotFound           = errors.New("文档不存在")
	ErrPreconditionFailed = errors.New("写入前置条件不满足")
)

// Fields 文档字段
type Fields map[string]any

// Document 带ID的文档快照
type Document struct {
	ID     string
	Fields Fields
}

// Decode 将文档解码到结构体，id 字段取文档ID
func (d Document) Decode(v any) error {
	m := make(map[string]any, len(d.Fields)+1)
	for k, val := range d.Fields {
		m[k] = val
	}
	m["id"] = d.ID

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("序列化文档 %s 失败: %w", d.ID, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析文档 %s 失败: %w", d.ID, err)
	}
	return nil
}

// ToFields 将结构体转换为字段表，去掉 id
func ToFields(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化字段失败: %w", err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("解析字段失败: %w", err)
	}
	delete(fields, "id")
	return fields, nil
}

type serverTimestamp struct{}

// ServerTimestamp 写入时由存储替换为提交时间
var ServerTimestamp any = serverTimestamp{}

// OpKind 批量操作类型
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
	OpAdd
	OpDecrement
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpAdd:
		return "add"
	case OpDecrement:
		return "decrement"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op 单个写操作
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Fields     Fields
	// Field 仅 OpDecrement 使用
	Field string
	Merge bool
}

// Store 文档存储
type Store interface {
	GetAll(ctx context.Context, collection string) ([]Document, error)
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, fields Fields, merge bool) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Batch() Batch
}

// Batch 批量写，Commit 时全部生效或全部不生效
type Batch interface {
	Set(collection, id string, fields Fields, merge bool)
	Update(collection, id string, fields Fields)
	Delete(collection, id string)
	// Add 返回预分配的文档ID
	Add(collection string, fields Fields) string
	// Decrement 字段减一，提交时字段必须大于0
	Decrement(collection, id, field string)
	Commit(ctx context.Context) error
}

// CommitFunc 原子地应用一组操作
type CommitFunc func(ctx context.Context, ops []Op) error

type opBatch struct {
	ops    []Op
	commit CommitFunc
	newID  func() string
}

// NewBatch 基于提交函数创建批量写
func NewBatch(commit CommitFunc, newID func() string) Batch {
	return &opBatch{commit: commit, newID: newID}
}

func (b *opBatch) Set(collection, id string, fields Fields, merge bool) {
	b.ops = append(b.ops, Op{Kind: OpSet, Collection: collection, ID: id, Fields: fields, Merge: merge})
}

func (b *opBatch) Update(collection, id string, fields Fields) {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields})
}

func (b *opBatch) Delete(collection, id string) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: collection, ID: id})
}

func (b *opBatch) Add(collection string, fields Fields) string {
	id := b.newID()
	b.ops = append(b.ops, Op{Kind: OpAdd, Collection: collection, ID: id, Fields: fields})
	return id
}

func (b *opBatch) Decrement(collection, id, field string) {
	b.ops = append(b.ops, Op{Kind: OpDecrement, Collection: collection, ID: id, Field: field})
}

func (b *opBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	ops := b.ops
	b.ops = nil
	return b.commit(ctx, ops)
}

// List 读取整个集合并解码
func List[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	docs, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("读取集合 %s 失败: %w", collection, err)
	}
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := doc.Decode(&item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Load 读取单个文档并解码
func Load[T any](ctx context.Context, s Store, collection, id string) (*T, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var item T
	if err := doc.Decode(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Normalize 替换时间戳占位符，并把字段规整为JSON基本类型
func Normalize(fields Fields, now time.Time) (Fields, error) {
	replaced := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			replaced[k] = now.UTC()
			continue
		}
		replaced[k] = v
	}
	data, err := json.Marshal(replaced)
	if err != nil {
		return nil, fmt.Errorf("序列化字段失败: %w", err)
	}
	var out Fields
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析字段失败: %w", err)
	}
	if out == nil {
		out = Fields{}
	}
	return out, nil
}

// Merge 返回合并后的新字段表
func Merge(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// DecrementField 字段减一，字段必须是正数
func DecrementField(fields Fields, field string) (Fields, error) {
	n, ok := asInt(fields[field])
	if !ok {
		return nil, fmt.Errorf("字段 %s 不是数字: %w", field, ErrPreconditionFailed)
	}
	if n <= 0 {
		return nil, fmt.Errorf("字段 %s 已为 %d: %w", field, n, ErrPreconditionFailed)
	}
	return Merge(fields, Fields{field: n - 1}), nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// Notifier 接收提交成功后的变更事件
type Notifier interface {
	Notify(ctx context.Context, event model.ChangeEvent)
}
