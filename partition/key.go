package partition

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

type (
	// Key is the canonical encoding of a partition tuple, `col=val/col=val` with
	// path escaped values. Equal tuples always encode to equal keys, so Key is
	// used directly as a map key. The empty Key is the unpartitioned table.
	Key string

	Value struct {
		Name  string
		Value string
	}
)

var (
	ErrMalformedKey = errors.New("malformed partition key")
)

func NewKey(values ...Value) Key {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, url.PathEscape(v.Name)+"="+url.PathEscape(v.Value))
	}
	return Key(strings.Join(parts, "/"))
}

// FromMap builds a key with columns in the given order.
func FromMap(columns []string, values map[string]string) (Key, error) {
	var vals []Value
	for _, col := range columns {
		v, ok := values[col]
		if !ok {
			return "", fmt.Errorf("%w: missing value for partition column %s", ErrMalformedKey, col)
		}
		vals = append(vals, Value{Name: col, Value: v})
	}
	return NewKey(vals...), nil
}

func (k Key) IsEmpty() bool {
	return k == ""
}

// Values decodes k into its ordered name/value pairs.
func (k Key) Values() ([]Value, error) {
	if k.IsEmpty() {
		return nil, nil
	}
	var values []Value
	for _, seg := range strings.Split(string(k), "/") {
		name, val, found := strings.Cut(seg, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("%w: segment %q of %q", ErrMalformedKey, seg, string(k))
		}
		name, err := url.PathUnescape(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
		}
		val, err = url.PathUnescape(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
		}
		values = append(values, Value{Name: name, Value: val})
	}
	return values, nil
}

// Spec decodes k into a column -> value map.
func (k Key) Spec() (map[string]string, error) {
	values, err := k.Values()
	if err != nil {
		return nil, err
	}
	spec := make(map[string]string, len(values))
	for _, v := range values {
		spec[v.Name] = v.Value
	}
	return spec, nil
}

func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
