package logstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/valyala/fastjson"

	"secuflow/config"
	"secuflow/pkg/models"
)

// ErrNotFound is returned when the configured log source does not exist.
var ErrNotFound = errors.New("log source not found")

// Store loads the full, ordered set of log records.
type Store interface {
	Load(ctx context.Context) ([]models.LogRecord, error)
	Describe() string
	Close() error
}

// NewFromConfig builds the store selected by cfg.Source.
func NewFromConfig(cfg config.LogsConfig, fs afero.Fs) (Store, error) {
	switch cfg.Source {
	case "file", "":
		return NewFileStore(fs, cfg.Path), nil
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	default:
		return nil, fmt.Errorf("unknown log source: %s", cfg.Source)
	}
}

// decodeRecord converts one JSON object into a LogRecord. Strings are kept verbatim,
// other scalars keep their JSON text and nulls are dropped.
func decodeRecord(v *fastjson.Value) (models.LogRecord, error) {
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("log record is not an object: %w", err)
	}

	rec := make(models.LogRecord, obj.Len())
	var visitErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		switch val.Type() {
		case fastjson.TypeNull:
			return
		case fastjson.TypeString:
			b, err := val.StringBytes()
			if err != nil {
				if visitErr == nil {
					visitErr = fmt.Errorf("field %q: %w", key, err)
				}
				return
			}
			rec[string(key)] = string(b)
		default:
			rec[string(key)] = val.String()
		}
	})
	if visitErr != nil {
		return nil, visitErr
	}
	return rec, nil
}
