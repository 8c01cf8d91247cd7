package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"shellproxy/apigw"
)

var (
	// ErrNotFound - ключа нет в разделе
	ErrNotFound = errors.New("cache entry not found")

	// ErrStorage оборачивает любой сбой хранилища (квота, ввод-вывод, сеть до S3).
	// Вызывающий трактует его как "кэш недоступен" и работает только через сеть.
	ErrStorage = errors.New("cache storage unavailable")

	// ErrPartitionDeleted - раздел удален, дескриптор больше не пригоден для записи
	ErrPartitionDeleted = errors.New("cache partition deleted")
)

// Entry - полный снимок ответа, хранимый под одним ключом
type Entry struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Response строит новый ответ из снимка. Каждый вызов возвращает
// независимое тело, снимок можно отдавать сколько угодно раз.
func (e *Entry) Response() *apigw.Response {
	return &apigw.Response{
		StatusCode: e.StatusCode,
		Headers:    e.Headers.Clone(),
		Body:       io.NopCloser(bytes.NewReader(e.Body)),
		Source:     apigw.SourceCache,
	}
}

// Size возвращает размер тела снимка в байтах
func (e *Entry) Size() int {
	return len(e.Body)
}

// clone возвращает глубокую копию снимка
func (e *Entry) clone() *Entry {
	c := *e
	c.Headers = e.Headers.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// Store - драйвер хранения разделов. Реализации должны быть потокобезопасными.
// Запись одного ключа атомарна: читатель видит либо старый, либо новый снимок целиком.
type Store interface {
	// CreatePartition создает пустой раздел; для существующего ничего не делает
	CreatePartition(ctx context.Context, name string) error

	// ListPartitions возвращает имена всех разделов
	ListPartitions(ctx context.Context) ([]string, error)

	// DeletePartition удаляет раздел со всем содержимым; false - раздела не было
	DeletePartition(ctx context.Context, name string) (bool, error)

	// Get возвращает снимок или ErrNotFound
	Get(ctx context.Context, partition, key string) (*Entry, error)

	// Put заменяет снимок под ключом целиком (последняя запись побеждает)
	Put(ctx context.Context, partition, key string, entry *Entry) error

	// Delete удаляет ключ; отсутствие ключа ошибкой не считается
	Delete(ctx context.Context, partition, key string) error

	// Count возвращает количество ключей в разделе
	Count(ctx context.Context, partition string) (int, error)

	// Close освобождает ресурсы драйвера
	Close() error
}

// PartitionNames - имена трех текущих разделов. Имена несут поколение
// (например "gymmatrix-static-v1") и должны совпадать между версиями прокси,
// иначе данные осиротеют.
type PartitionNames struct {
	Primary string `yaml:"primary"`
	Static  string `yaml:"static"`
	Dynamic string `yaml:"dynamic"`
}

// DefaultPartitionNames возвращает имена по умолчанию
func DefaultPartitionNames() PartitionNames {
	return PartitionNames{
		Primary: "primary",
		Static:  "static",
		Dynamic: "dynamic",
	}
}

// Current возвращает множество текущих имен
func (n PartitionNames) Current() map[string]bool {
	return map[string]bool{
		n.Primary: true,
		n.Static:  true,
		n.Dynamic: true,
	}
}

// PartitionStats - сводка по разделу для /stats
type PartitionStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}
