package models

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Extra holds the keys of a document object that the Go type does not
// model. They are written back unchanged so an editor save never loses
// data the runtime does not know about.
type Extra map[string]json.RawMessage

var knownKeyCache sync.Map // reflect.Type -> map[string]bool

// knownKeys lists the JSON names of t's exported fields.
func knownKeys(t reflect.Type) map[string]bool {
	if cached, ok := knownKeyCache.Load(t); ok {
		return cached.(map[string]bool)
	}
	keys := map[string]bool{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name := f.Name
		if tag := f.Tag.Get("json"); tag != "" {
			if tag == "-" {
				continue
			}
			if n, _, _ := strings.Cut(tag, ","); n != "" {
				name = n
			}
		}
		keys[name] = true
	}
	knownKeyCache.Store(t, keys)
	return keys
}

// decodeWithExtra decodes data into v, a pointer to a struct without its own
// UnmarshalJSON, and returns the keys v does not model.
func decodeWithExtra(data []byte, v interface{}) (Extra, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	known := knownKeys(reflect.TypeOf(v).Elem())
	var extra Extra
	for k, val := range raw {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = Extra{}
		}
		extra[k] = val
	}
	return extra, nil
}

// encodeWithExtra encodes v and appends the extra keys, sorted, after the
// modelled ones.
func encodeWithExtra(v interface{}, extra Extra) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return out, err
	}
	known := knownKeys(reflect.TypeOf(v))
	names := make([]string, 0, len(extra))
	for k := range extra {
		if !known[k] {
			names = append(names, k)
		}
	}
	if len(names) == 0 {
		return out, nil
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.Write(out[:len(out)-1])
	needComma := len(bytes.TrimSpace(out)) > 2
	for _, k := range names {
		if needComma {
			buf.WriteByte(',')
		}
		needComma = true
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Passport) UnmarshalJSON(data []byte) error {
	type plain Passport
	extra, err := decodeWithExtra(data, (*plain)(p))
	p.Extra = extra
	return err
}

func (p Passport) MarshalJSON() ([]byte, error) {
	type plain Passport
	return encodeWithExtra(plain(p), p.Extra)
}

func (m *PassportMeta) UnmarshalJSON(data []byte) error {
	type plain PassportMeta
	extra, err := decodeWithExtra(data, (*plain)(m))
	m.Extra = extra
	return err
}

func (m PassportMeta) MarshalJSON() ([]byte, error) {
	type plain PassportMeta
	return encodeWithExtra(plain(m), m.Extra)
}

func (f *Features) UnmarshalJSON(data []byte) error {
	type plain Features
	extra, err := decodeWithExtra(data, (*plain)(f))
	f.Extra = extra
	return err
}

func (f Features) MarshalJSON() ([]byte, error) {
	type plain Features
	return encodeWithExtra(plain(f), f.Extra)
}

func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	extra, err := decodeWithExtra(data, (*plain)(s))
	s.Extra = extra
	return err
}

func (s Settings) MarshalJSON() ([]byte, error) {
	type plain Settings
	return encodeWithExtra(plain(s), s.Extra)
}

func (a *Audio) UnmarshalJSON(data []byte) error {
	type plain Audio
	extra, err := decodeWithExtra(data, (*plain)(a))
	a.Extra = extra
	return err
}

func (a Audio) MarshalJSON() ([]byte, error) {
	type plain Audio
	return encodeWithExtra(plain(a), a.Extra)
}

func (t *BadgeType) UnmarshalJSON(data []byte) error {
	type plain BadgeType
	extra, err := decodeWithExtra(data, (*plain)(t))
	t.Extra = extra
	return err
}

func (t BadgeType) MarshalJSON() ([]byte, error) {
	type plain BadgeType
	return encodeWithExtra(plain(t), t.Extra)
}

func (b *Badge) UnmarshalJSON(data []byte) error {
	type plain Badge
	extra, err := decodeWithExtra(data, (*plain)(b))
	b.Extra = extra
	return err
}

func (b Badge) MarshalJSON() ([]byte, error) {
	type plain Badge
	return encodeWithExtra(plain(b), b.Extra)
}
