package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"review-monitor/internal/domain"
)

// File хранит снимок кэша в JSON-файле.
type File struct {
	path string
}

// NewFile создаёт файловое хранилище снимка.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load реализует domain.SnapshotStore.
func (f *File) Load(ctx context.Context) (domain.CacheSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.CacheSnapshot{}, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.CacheSnapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.CacheSnapshot{}, fmt.Errorf("чтение снимка: %w", err)
	}
	return decode(data)
}

// Save записывает снимок во временный файл и атомарно подменяет основной.
func (f *File) Save(ctx context.Context, snap domain.CacheSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("каталог снимка: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".review-cache-*")
	if err != nil {
		return fmt.Errorf("временный файл: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("запись снимка: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync снимка: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("закрытие снимка: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("переименование снимка: %w", err)
	}
	return nil
}

func encode(snap domain.CacheSnapshot) ([]byte, error) {
	snap.Count = len(snap.Entries)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("упаковка снимка: %w", err)
	}
	return data, nil
}

func decode(data []byte) (domain.CacheSnapshot, error) {
	var snap domain.CacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.CacheSnapshot{}, fmt.Errorf("распаковка снимка: %w", err)
	}
	return snap, nil
}
