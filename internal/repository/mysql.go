package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/phuslu/log"
)

// MySQLStore 以 documents 表保存全部集合，每个文档一行JSON
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := RunMigrations(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &MySQLStore{db: db}, nil
}

// GetAll 按写入顺序返回集合内全部文档
func (r *MySQLStore) GetAll(ctx context.Context, collection string) ([]store.Document, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT doc_id, data FROM documents WHERE collection = ? ORDER BY seq", collection)
	if err != nil {
		return nil, fmt.Errorf("查询集合 %s 失败: %w", collection, err)
	}
	defer rows.Close()

	docs := []store.Document{}
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("扫描文档失败: %w", err)
		}
		fields, err := decodeFields(data)
		if err != nil {
			return nil, fmt.Errorf("解析文档 %s/%s 失败: %w", collection, id, err)
		}
		docs = append(docs, store.Document{ID: id, Fields: fields})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代集合 %s 失败: %w", collection, err)
	}
	return docs, nil
}

func (r *MySQLStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE collection = ? AND doc_id = ?", collection, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("查询文档 %s/%s 失败: %w", collection, id, err)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return nil, fmt.Errorf("解析文档 %s/%s 失败: %w", collection, id, err)
	}
	return &store.Document{ID: id, Fields: fields}, nil
}

func (r *MySQLStore) Set(ctx context.Context, collection, id string, fields store.Fields, merge bool) error {
	return r.commit(ctx, []store.Op{{Kind: store.OpSet, Collection: collection, ID: id, Fields: fields, Merge: merge}})
}

func (r *MySQLStore) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	return r.commit(ctx, []store.Op{{Kind: store.OpUpdate, Collection: collection, ID: id, Fields: fields}})
}

func (r *MySQLStore) Delete(ctx context.Context, collection, id string) error {
	return r.commit(ctx, []store.Op{{Kind: store.OpDelete, Collection: collection, ID: id}})
}

func (r *MySQLStore) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	id := uuid.NewString()
	if err := r.commit(ctx, []store.Op{{Kind: store.OpAdd, Collection: collection, ID: id, Fields: fields}}); err != nil {
		return "", err
	}
	return id, nil
}

func (r *MySQLStore) Batch() store.Batch {
	return store.NewBatch(r.commit, uuid.NewString)
}

// commit 在一个事务中执行全部操作
func (r *MySQLStore) commit(ctx context.Context, ops []store.Op) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	now := time.Now().UTC()
	for i, op := range ops {
		if err := applyOp(ctx, tx, op, now); err != nil {
			tx.Rollback()
			log.Warn().Err(err).Int("index", i).Str("op", op.Kind.String()).Str("collection", op.Collection).Str("id", op.ID).Msg("批量写入失败，事务已回滚")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op store.Op, now time.Time) error {
	switch op.Kind {
	case store.OpSet, store.OpAdd:
		fields, err := store.Normalize(op.Fields, now)
		if err != nil {
			return err
		}
		if op.Merge {
			existing, found, err := lockDocument(ctx, tx, op.Collection, op.ID)
			if err != nil {
				return err
			}
			if found {
				fields = store.Merge(existing, fields)
			}
		}
		return upsertDocument(ctx, tx, op.Collection, op.ID, fields, now)

	case store.OpUpdate:
		existing, found, err := lockDocument(ctx, tx, op.Collection, op.ID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("更新 %s/%s: %w", op.Collection, op.ID, store.ErrNotFound)
		}
		fields, err := store.Normalize(op.Fields, now)
		if err != nil {
			return err
		}
		return upsertDocument(ctx, tx, op.Collection, op.ID, store.Merge(existing, fields), now)

	case store.OpDelete:
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND doc_id = ?", op.Collection, op.ID); err != nil {
			return fmt.Errorf("删除文档 %s/%s 失败: %w", op.Collection, op.ID, err)
		}
		return nil

	case store.OpDecrement:
		// 行锁保证并发确认时库存不会扣成负数
		existing, found, err := lockDocument(ctx, tx, op.Collection, op.ID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("扣减 %s/%s: %w", op.Collection, op.ID, store.ErrNotFound)
		}
		fields, err := store.DecrementField(existing, op.Field)
		if err != nil {
			return fmt.Errorf("扣减 %s/%s: %w", op.Collection, op.ID, err)
		}
		return upsertDocument(ctx, tx, op.Collection, op.ID, fields, now)

	default:
		return fmt.Errorf("未知操作类型: %s", op.Kind)
	}
}

func lockDocument(ctx context.Context, tx *sql.Tx, collection, id string) (store.Fields, bool, error) {
	var data []byte
	err := tx.QueryRowContext(ctx, "SELECT data FROM documents WHERE collection = ? AND doc_id = ? FOR UPDATE", collection, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("锁定文档 %s/%s 失败: %w", collection, id, err)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return nil, false, fmt.Errorf("解析文档 %s/%s 失败: %w", collection, id, err)
	}
	return fields, true, nil
}

// upsertDocument 已存在的文档保留原有 seq，顺序不变
func upsertDocument(ctx context.Context, tx *sql.Tx, collection, id string, fields store.Fields, now time.Time) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("序列化文档 %s/%s 失败: %w", collection, id, err)
	}
	query := `INSERT INTO documents (collection, doc_id, data, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			 data = VALUES(data),
			 updated_at = VALUES(updated_at)`
	if _, err := tx.ExecContext(ctx, query, collection, id, data, now); err != nil {
		return fmt.Errorf("写入文档 %s/%s 失败: %w", collection, id, err)
	}
	return nil
}

func decodeFields(data []byte) (store.Fields, error) {
	fields := store.Fields{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Close 关闭数据库连接
func (r *MySQLStore) Close() {
	if r.db != nil {
		r.db.Close()
	}
}
