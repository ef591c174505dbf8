package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	fileDataDir = "data"
	fileMetaDir = "meta"
	fileTmpDir  = "tmp"
)

// FileStore keeps objects on local disk under a base directory. Every key is
// one flat file so folder-marker keys ending in "/" need no special casing.
// Content types live in a sidecar file per key.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory layout if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	for _, dir := range []string{fileDataDir, fileMetaDir, fileTmpDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &FileStore{basePath: basePath}, nil
}

func (f *FileStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.writeAtomic(filepath.Join(fileDataDir, name), r); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if err := f.writeAtomic(filepath.Join(fileMetaDir, name), strings.NewReader(contentType)); err != nil {
		return fmt.Errorf("put object meta: %w", err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, key string) (*Object, error) {
	name, err := fileName(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(f.basePath, fileDataDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat object: %w", err)
	}
	contentType, _ := os.ReadFile(filepath.Join(f.basePath, fileMetaDir, name))
	return &Object{
		Key:         key,
		Size:        info.Size(),
		ContentType: string(contentType),
		Body:        file,
	}, nil
}

func (f *FileStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	obj, err := f.Get(ctx, srcKey)
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	defer obj.Body.Close()
	return f.Put(ctx, dstKey, obj.Body, obj.Size, obj.ContentType)
}

func (f *FileStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	name, err := fileName(key)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(filepath.Join(f.basePath, fileDataDir, name)), nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}
	for _, dir := range []string{fileDataDir, fileMetaDir} {
		if err := os.Remove(filepath.Join(f.basePath, dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete object: %w", err)
		}
	}
	return nil
}

func (f *FileStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := f.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := f.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.basePath, fileDataDir))
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// writeAtomic stages the content in tmp and renames it into place so readers
// never see a partial object.
func (f *FileStore) writeAtomic(rel string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Join(f.basePath, fileTmpDir), "put-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(f.basePath, rel)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// fileName escapes key into a single path element.
func fileName(key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return url.PathEscape(key), nil
}
