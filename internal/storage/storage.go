// Package storage 原始 CSV 字节的对象存储：S3 兼容存储（含 MinIO）或本地目录。
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"studylab/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore 按 key 读写对象
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New 按 storage.driver 构造
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

// DatasetKey 数据集对象 key：datasets/<user>/<dataset id>/<文件名>
func DatasetKey(userID, datasetID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "data.csv"
	}
	return path.Join("datasets", userID, datasetID, name)
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)[1:]
	if k == "" || k != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("非法对象 key: %q", key)
	}
	return k, nil
}
