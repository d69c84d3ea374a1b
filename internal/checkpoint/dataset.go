package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Dataset maps child keys to their collected items. Keys keep insertion order
// through marshal and unmarshal; items are held as raw JSON so that loading
// and saving never drops or reorders fields.
type Dataset struct {
	keys    []string
	entries map[string][]json.RawMessage
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{entries: make(map[string][]json.RawMessage)}
}

// Len reports the number of keys.
func (d *Dataset) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d *Dataset) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Has reports whether key is present.
func (d *Dataset) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Get returns the raw items stored under key.
func (d *Dataset) Get(key string) []json.RawMessage {
	return d.entries[key]
}

// Set stores items under key. A new key is appended; an existing key keeps
// its position.
func (d *Dataset) Set(key string, items []json.RawMessage) {
	if d.entries == nil {
		d.entries = make(map[string][]json.RawMessage)
	}
	if _, ok := d.entries[key]; !ok {
		d.keys = append(d.keys, key)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	d.entries[key] = items
}

// ItemCount sums the items across all keys.
func (d *Dataset) ItemCount() int {
	n := 0
	for _, items := range d.entries {
		n += len(items)
	}
	return n
}

// SetItems encodes typed items and stores them under key.
func SetItems[T any](d *Dataset, key string, items []T) error {
	raw := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s item %d: %w", key, i, err)
		}
		raw = append(raw, b)
	}
	d.Set(key, raw)
	return nil
}

// Items decodes the items stored under key.
func Items[T any](d *Dataset, key string) ([]T, error) {
	raw := d.Get(key)
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			return nil, fmt.Errorf("decode %s item %d: %w", key, i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// MarshalJSON writes the keys in insertion order.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(":[")
		for j, item := range d.entries[k] {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.Write(item)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of arrays, recording keys in document order.
// A repeated key keeps its first position and its last value.
func (d *Dataset) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dataset: expected object, got %v", tok)
	}

	fresh := NewDataset()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("dataset: expected key, got %v", tok)
		}
		var items []json.RawMessage
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("dataset: key %q: %w", key, err)
		}
		fresh.Set(key, items)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*d = *fresh
	return nil
}
