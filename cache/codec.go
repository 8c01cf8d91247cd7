package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/pierrec/lz4/v4"
)

// encodeEntry сериализует снимок в JSON и сжимает его кадром lz4
func encodeEntry(entry *Entry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress entry: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeEntry - обратная операция к encodeEntry
func decodeEntry(r io.Reader) (*Entry, error) {
	raw, err := io.ReadAll(lz4.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// keyID превращает ключ (URL) в имя файла/объекта
func keyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// partitionDir экранирует имя раздела для использования в путях
func partitionDir(name string) string {
	return url.PathEscape(name)
}

// partitionName - обратная операция к partitionDir
func partitionName(dir string) (string, error) {
	return url.PathUnescape(dir)
}
