package model

import (
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
)

// Instance is one row of a model. Values are keyed by column.
type Instance struct {
	Model  *Model
	Values map[string]any

	prefetched map[string][]*Instance
}

// NewInstance builds an instance from field names or columns. Array relation
// columns default to an empty key list.
func NewInstance(m *Model, values map[string]any) *Instance {
	inst := &Instance{Model: m, Values: make(map[string]any, len(values))}
	for _, f := range m.ArrayM2MFields() {
		inst.Values[f.Column()] = []any{}
	}
	for k, v := range values {
		inst.Set(k, v)
	}
	return inst
}

// PK returns the primary key value, or nil for an unsaved instance.
func (i *Instance) PK() any {
	pk := i.Model.PK()
	if pk == nil {
		return nil
	}
	return i.Values[pk.Column()]
}

// Saved reports whether the instance has a primary key.
func (i *Instance) Saved() bool { return i.PK() != nil }

func (i *Instance) column(name string) string {
	if f, ok := i.Model.Field(name); ok && f.Column() != "" {
		return f.Column()
	}
	return name
}

// Get reads a value by field name, column or annotation alias.
func (i *Instance) Get(name string) any {
	if v, ok := i.Values[name]; ok {
		return v
	}
	return i.Values[i.column(name)]
}

// Set writes a value by field name or column.
func (i *Instance) Set(name string, v any) {
	i.Values[i.column(name)] = v
}

// Keys reads an array column as normalized keys.
func (i *Instance) Keys(name string) []any {
	items, err := ToSlice(i.Get(name))
	if err != nil {
		return nil
	}
	out := make([]any, len(items))
	for j, v := range items {
		out[j] = NormalizeKey(v)
	}
	return out
}

// Prefetched returns the cached related instances for a relation name.
func (i *Instance) Prefetched(name string) ([]*Instance, bool) {
	objs, ok := i.prefetched[name]
	return objs, ok
}

func (i *Instance) SetPrefetched(name string, objs []*Instance) {
	if i.prefetched == nil {
		i.prefetched = map[string][]*Instance{}
	}
	i.prefetched[name] = objs
}

// ClearPrefetched drops the cache for name.
func (i *Instance) ClearPrefetched(name string) {
	delete(i.prefetched, name)
}

// Decode copies the values into a struct using `db` tags.
func (i *Instance) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(uuidHook),
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(i.Values); err != nil {
		return fmt.Errorf("decoding %s instance: %w", i.Model.Name, err)
	}
	return nil
}

func uuidHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(uuid.UUID{}) {
		return data, nil
	}
	switch t := data.(type) {
	case [16]byte:
		return uuid.UUID(t), nil
	case string:
		return uuid.Parse(t)
	}
	return data, nil
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s object (%v)", i.Model.Name, i.PK())
}

// NormalizeKey maps equivalent key representations onto one Go type so keys
// from the driver compare equal to keys given by callers: integers become
// int64 and 16-byte arrays become uuid.UUID.
func NormalizeKey(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int64, string, uuid.UUID:
		return v
	case [16]byte:
		return uuid.UUID(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case uint32:
		return int64(t)
	case uint16:
		return int64(t)
	case uint8:
		return int64(t)
	}
	return v
}
