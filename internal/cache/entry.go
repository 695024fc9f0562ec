package cache

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCorruptEntry is returned for entries that do not decode.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Entry field numbers.
const (
	fieldSource   protowire.Number = 1
	fieldConfig   protowire.Number = 2
	fieldWorld    protowire.Number = 3
	fieldCreated  protowire.Number = 4
	fieldCounter  protowire.Number = 5
	fieldWarning  protowire.Number = 6
	fieldVersion  protowire.Number = 7
	counterName   protowire.Number = 1
	counterValue  protowire.Number = 2
	checksumBytes                  = 32
)

// Entry is a cached compile result.
type Entry struct {
	Source   [32]byte // checksum of the map source
	Config   [32]byte // fingerprint of the output affecting settings
	Version  string   // compiler version that wrote the entry
	World    []byte   // encoded world file
	Created  time.Time
	Counters map[string]int
	Warnings []string
}

// Marshal encodes the entry in protobuf wire format. Counters are written
// sorted by name so equal entries encode equally.
func (e *Entry) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Source[:])
	b = protowire.AppendTag(b, fieldConfig, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Config[:])
	b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
	b = protowire.AppendString(b, e.Version)
	b = protowire.AppendTag(b, fieldWorld, protowire.BytesType)
	b = protowire.AppendBytes(b, e.World)
	b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Created.UnixNano()))

	names := make([]string, 0, len(e.Counters))
	for name := range e.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var c []byte
		c = protowire.AppendTag(c, counterName, protowire.BytesType)
		c = protowire.AppendString(c, name)
		c = protowire.AppendTag(c, counterValue, protowire.VarintType)
		c = protowire.AppendVarint(c, protowire.EncodeZigZag(int64(e.Counters[name])))
		b = protowire.AppendTag(b, fieldCounter, protowire.BytesType)
		b = protowire.AppendBytes(b, c)
	}
	for _, w := range e.Warnings {
		b = protowire.AppendTag(b, fieldWarning, protowire.BytesType)
		b = protowire.AppendString(b, w)
	}
	return b
}

// UnmarshalEntry decodes an entry. Unknown fields are skipped.
func UnmarshalEntry(b []byte) (*Entry, error) {
	e := &Entry{Counters: make(map[string]int)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSource && typ == protowire.BytesType,
			num == fieldConfig && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			if len(v) != checksumBytes {
				return nil, corrupt(fmt.Errorf("checksum field %d has %d bytes", num, len(v)))
			}
			if num == fieldSource {
				copy(e.Source[:], v)
			} else {
				copy(e.Config[:], v)
			}
			b = b[n:]
		case num == fieldVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			e.Version = v
			b = b[n:]
		case num == fieldWorld && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			e.World = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldCreated && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			e.Created = time.Unix(0, int64(v))
			b = b[n:]
		case num == fieldCounter && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			name, value, err := unmarshalCounter(v)
			if err != nil {
				return nil, corrupt(err)
			}
			e.Counters[name] = value
			b = b[n:]
		case num == fieldWarning && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			e.Warnings = append(e.Warnings, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

func unmarshalCounter(b []byte) (string, int, error) {
	var name string
	var value int
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", 0, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == counterName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", 0, protowire.ParseError(n)
			}
			name = v
			b = b[n:]
		case num == counterValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", 0, protowire.ParseError(n)
			}
			value = int(protowire.DecodeZigZag(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", 0, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return name, value, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
}
