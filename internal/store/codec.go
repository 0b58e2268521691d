package store

import (
	"context"

	"github.com/goccy/go-json"

	apperrors "github.com/virtuallab/labsync/internal/errors"
)

// GetJSON decodes the record under key into v. ok is false when the key is
// absent. A record that cannot be decoded is reported as a STORAGE_ERROR
// wrapping the decode failure so callers can decide to discard it.
func GetJSON(ctx context.Context, s Store, key string, v interface{}) (ok bool, err error) {
	data, ok, err := s.GetItem(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, apperrors.Wrap(apperrors.ErrStorage, "corrupt record "+key, &CorruptError{Key: key, Err: err})
	}
	return true, nil
}

// SetJSON encodes v and stores it under key in one write.
func SetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode record "+key, err)
	}
	return s.SetItem(ctx, key, data)
}

// CorruptError reports a stored record that no longer decodes.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string { return "corrupt record " + e.Key + ": " + e.Err.Error() }

func (e *CorruptError) Unwrap() error { return e.Err }
