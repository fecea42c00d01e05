package repository

import "context"

// カートの保存先（キーと値だけ）
type KeyValueStore interface {
	//無ければ ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
