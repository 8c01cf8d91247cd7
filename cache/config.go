package cache

import (
	"context"
	"fmt"
	"time"
)

// Драйверы хранения
const (
	DriverMemory = "memory"
	DriverDisk   = "disk"
	DriverS3     = "s3"
)

// Config содержит конфигурацию менеджера разделов
type Config struct {
	// Driver - "memory", "disk" или "s3"
	Driver string `yaml:"driver"`

	// Partitions - имена текущих разделов
	Partitions PartitionNames `yaml:"partitions"`

	Disk DiskConfig `yaml:"disk"`
	S3   S3Config   `yaml:"s3"`
}

// DiskConfig - параметры драйвера disk
type DiskConfig struct {
	Dir         string        `yaml:"dir"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// S3Config - параметры драйвера s3
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverDisk,
		Partitions: DefaultPartitionNames(),
		Disk: DiskConfig{
			Dir:         "./data/cache",
			LockTimeout: 5 * time.Second,
		},
		S3: S3Config{
			Region:       "us-east-1",
			Prefix:       "shellproxy/",
			UsePathStyle: true,
		},
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	p := c.Partitions
	for label, name := range map[string]string{"primary": p.Primary, "static": p.Static, "dynamic": p.Dynamic} {
		if err := validateName(name); err != nil {
			return fmt.Errorf("partitions.%s: %w", label, err)
		}
	}
	if p.Primary == p.Static || p.Primary == p.Dynamic || p.Static == p.Dynamic {
		return fmt.Errorf("partition names must be distinct")
	}

	switch c.Driver {
	case DriverMemory:
	case DriverDisk:
		if c.Disk.Dir == "" {
			return fmt.Errorf("disk.dir cannot be empty")
		}
	case DriverS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket cannot be empty")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("s3.region cannot be empty")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return fmt.Errorf("s3.access_key and s3.secret_key must be set together")
		}
	default:
		return fmt.Errorf("unknown cache driver: %s", c.Driver)
	}
	return nil
}

// NewStoreFromConfig создает драйвер хранения по конфигурации
func NewStoreFromConfig(ctx context.Context, c *Config) (Store, error) {
	switch c.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverDisk:
		return NewDiskStore(c.Disk.Dir, c.Disk.LockTimeout)
	case DriverS3:
		return NewS3Store(ctx, c.S3)
	default:
		return nil, fmt.Errorf("unknown cache driver: %s", c.Driver)
	}
}
