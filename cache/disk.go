package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	entrySuffix  = ".entry"
	markerFile   = ".partition"
	lockRetry    = 10 * time.Millisecond
	lockDirName  = "locks"
	partsDirName = "partitions"
)

// DiskStore хранит каждый раздел в отдельном каталоге, каждый ключ - в отдельном
// файле (снимок в JSON, сжатый lz4). Запись идет через временный файл и rename,
// поэтому читатели не берут блокировок. Писатели одного раздела сериализуются
// файловой блокировкой, что защищает и от второго процесса на том же каталоге.
type DiskStore struct {
	baseDir     string
	lockTimeout time.Duration
}

// NewDiskStore создает хранилище в baseDir
func NewDiskStore(baseDir string, lockTimeout time.Duration) (*DiskStore, error) {
	for _, dir := range []string{filepath.Join(baseDir, partsDirName), filepath.Join(baseDir, lockDirName)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}

	return &DiskStore{
		baseDir:     baseDir,
		lockTimeout: lockTimeout,
	}, nil
}

func (d *DiskStore) partitionPath(name string) string {
	return filepath.Join(d.baseDir, partsDirName, partitionDir(name))
}

func (d *DiskStore) entryPath(partition, key string) string {
	return filepath.Join(d.partitionPath(partition), keyID(key)+entrySuffix)
}

// withLock выполняет fn под файловой блокировкой раздела
func (d *DiskStore) withLock(ctx context.Context, partition string, fn func() error) error {
	lockPath := filepath.Join(d.baseDir, lockDirName, partitionDir(partition)+".lock")
	fileLock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(ctx, d.lockTimeout)
	defer cancel()

	acquired, err := fileLock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for partition %s: %w", partition, err)
	}
	if !acquired {
		return fmt.Errorf("failed to acquire lock for partition %s: timeout", partition)
	}
	defer fileLock.Unlock()

	return fn()
}

// ensurePartition создает каталог раздела и маркер со временем создания
func (d *DiskStore) ensurePartition(name string) error {
	dir := d.partitionPath(name)
	marker := filepath.Join(dir, markerFile)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}
	created := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(marker, []byte(created), 0644); err != nil {
		return fmt.Errorf("failed to write partition marker: %w", err)
	}
	return nil
}

func (d *DiskStore) CreatePartition(ctx context.Context, name string) error {
	return d.withLock(ctx, name, func() error {
		return d.ensurePartition(name)
	})
}

// ListPartitions возвращает имена в порядке создания (по маркеру)
func (d *DiskStore) ListPartitions(ctx context.Context) ([]string, error) {
	dirs, err := os.ReadDir(filepath.Join(d.baseDir, partsDirName))
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	type partitionInfo struct {
		name    string
		created int64
	}
	infos := make([]partitionInfo, 0, len(dirs))
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		name, err := partitionName(dir.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.baseDir, partsDirName, dir.Name(), markerFile))
		if err != nil {
			// Каталог без маркера - недосозданный раздел, пропускаем
			continue
		}
		created, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		infos = append(infos, partitionInfo{name: name, created: created})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].created == infos[j].created {
			return infos[i].name < infos[j].name
		}
		return infos[i].created < infos[j].created
	})

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.name
	}
	return names, nil
}

func (d *DiskStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	var existed bool
	err := d.withLock(ctx, name, func() error {
		dir := d.partitionPath(name)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil
		}
		existed = true
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove partition %s: %w", name, err)
		}
		return nil
	})
	return existed, err
}

func (d *DiskStore) Get(ctx context.Context, partition, key string) (*Entry, error) {
	f, err := os.Open(d.entryPath(partition, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open cache entry: %w", err)
	}
	defer f.Close()

	entry, err := decodeEntry(f)
	if err != nil {
		return nil, err
	}
	if entry.Key != key {
		// Коллизия sha256 практически невозможна, но ключ все равно сверяем
		return nil, ErrNotFound
	}
	return entry, nil
}

func (d *DiskStore) Put(ctx context.Context, partition, key string, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	return d.withLock(ctx, partition, func() error {
		if err := d.ensurePartition(partition); err != nil {
			return err
		}

		path := d.entryPath(partition, key)
		tmp, err := os.CreateTemp(filepath.Dir(path), "put-*.tmp")
		if err != nil {
			return fmt.Errorf("failed to create temp entry: %w", err)
		}
		tmpPath := tmp.Name()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write temp entry: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to close temp entry: %w", err)
		}

		// Атомарно подменяем снимок
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to rename entry: %w", err)
		}
		return nil
	})
}

func (d *DiskStore) Delete(ctx context.Context, partition, key string) error {
	return d.withLock(ctx, partition, func() error {
		err := os.Remove(d.entryPath(partition, key))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		return nil
	})
}

func (d *DiskStore) Count(ctx context.Context, partition string) (int, error) {
	files, err := os.ReadDir(d.partitionPath(partition))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read partition directory: %w", err)
	}

	count := 0
	for _, f := range files {
		if strings.HasSuffix(f.Name(), entrySuffix) {
			count++
		}
	}
	return count, nil
}

func (d *DiskStore) Close() error {
	return nil
}
