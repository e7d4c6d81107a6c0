package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"example.com/fitsync/internal/localstore"
)

// item is one raw local record. Key is set for records stored in a keyed object.
type item struct {
	Key   string
	Value any
}

// readItems decodes the collection stored under key, preserving its stored order. Both lists
// and keyed objects are accepted; an absent key yields no items.
func readItems(ctx context.Context, local localstore.Store, key string) ([]item, error) {
	raw, ok, err := local.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if tok == nil {
		return nil, nil
	}
	delim, isDelim := tok.(json.Delim)
	if !isDelim || (delim != '[' && delim != '{') {
		return nil, fmt.Errorf("decode %s: expected a list or object", key)
	}

	var items []item
	for dec.More() {
		var it item
		if delim == '{' {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			it.Key, _ = keyTok.(string)
		}
		if err := dec.Decode(&it.Value); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		items = append(items, it)
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

// readValue decodes a single JSON value. Values that are not JSON are returned as strings.
func readValue(ctx context.Context, local localstore.Store, key string) (any, bool, error) {
	raw, ok, err := local.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw), true, nil
	}
	return v, true, nil
}
