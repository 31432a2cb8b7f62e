package store

import (
	"context"
	"time"

	"github.com/lvdashuaibi/luckydraw/internal/model"
)

// Observe 包装存储，写入成功后向 notifier 发送变更事件
func Observe(s Store, n Notifier) Store {
	return &observedStore{Store: s, notifier: n}
}

type observedStore struct {
	Store
	notifier Notifier
}

func (o *observedStore) notify(ctx context.Context, collection, id string, op model.ChangeOp) {
	o.notifier.Notify(ctx, model.ChangeEvent{
		Collection: collection,
		DocID:      id,
		Op:         op,
		At:         time.Now().UTC(),
	})
}

func (o *observedStore) Set(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	if err := o.Store.Set(ctx, collection, id, fields, merge); err != nil {
		return err
	}
	o.notify(ctx, collection, id, model.OpSet)
	return nil
}

func (o *observedStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := o.Store.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	o.notify(ctx, collection, id, model.OpUpdate)
	return nil
}

func (o *observedStore) Delete(ctx context.Context, collection, id string) error {
	if err := o.Store.Delete(ctx, collection, id); err != nil {
		return err
	}
	o.notify(ctx, collection, id, model.OpDelete)
	return nil
}

func (o *observedStore) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id, err := o.Store.Add(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	o.notify(ctx, collection, id, model.OpAdd)
	return id, nil
}

func (o *observedStore) Batch() Batch {
	return &observedBatch{Batch: o.Store.Batch(), store: o}
}

type change struct {
	collection string
	id         string
	op         model.ChangeOp
}

type observedBatch struct {
	Batch
	store   *observedStore
	changes []change
}

func (b *observedBatch) Set(collection, id string, fields Fields, merge bool) {
	b.Batch.Set(collection, id, fields, merge)
	b.changes = append(b.changes, change{collection, id, model.OpSet})
}

func (b *observedBatch) Update(collection, id string, fields Fields) {
	b.Batch.Update(collection, id, fields)
	b.changes = append(b.changes, change{collection, id, model.OpUpdate})
}

func (b *observedBatch) Delete(collection, id string) {
	b.Batch.Delete(collection, id)
	b.changes = append(b.changes, change{collection, id, model.OpDelete})
}

func (b *observedBatch) Add(collection string, fields Fields) string {
	id := b.Batch.Add(collection, fields)
	b.changes = append(b.changes, change{collection, id, model.OpAdd})
	return id
}

func (b *observedBatch) Decrement(collection, id, field string) {
	b.Batch.Decrement(collection, id, field)
	b.changes = append(b.changes, change{collection, id, model.OpUpdate})
}

func (b *observedBatch) Commit(ctx context.Context) error {
	changes := b.changes
	b.changes = nil
	if err := b.Batch.Commit(ctx); err != nil {
		return err
	}

	// 同一集合只通知一次
	seen := make(map[string]bool)
	for _, c := range changes {
		if seen[c.collection] {
			continue
		}
		seen[c.collection] = true
		b.store.notify(ctx, c.collection, c.id, c.op)
	}
	return nil
}
