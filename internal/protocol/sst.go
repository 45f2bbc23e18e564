package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// SST (serialized string) payload format:
//
//	key1@=value1/key2@=value2/ ... \0
//
// Each key and value is escaped before joining:
//
//	"@" -> "@A"   (applied first)
//	"/" -> "@S"   (applied second)
//
// Unescaping runs in the opposite order ("@S" before "@A"). After escaping,
// every "@" in the text is followed by 'A' or 'S', so neither the "@="
// separator nor the "/" terminator can appear inside an escaped token.
const (
	pairSeparator  = "@="
	pairTerminator = "/"
)

var (
	escaper   = strings.NewReplacer("@", "@A", "/", "@S")
	unescapeS = strings.NewReplacer("@S", "/")
	unescapeA = strings.NewReplacer("@A", "@")
)

// Pair is a single key/value entry of an SST record
type Pair struct {
	Key   string
	Value string
}

// Record is an ordered SST record with unique keys.
// Insertion order is kept so that encoding is deterministic.
type Record []Pair

// NewRecord builds a record from alternating key/value arguments.
// A trailing key without a value is ignored.
func NewRecord(kv ...string) Record {
	r := make(Record, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

// Get returns the value stored under key
func (r Record) Get(key string) (string, bool) {
	for _, p := range r {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key in place or appends a new pair
func (r *Record) Set(key, value string) {
	for i := range *r {
		if (*r)[i].Key == key {
			(*r)[i].Value = value
			return
		}
	}
	*r = append(*r, Pair{Key: key, Value: value})
}

// Type returns the value of the "type" key, or "" when absent
func (r Record) Type() string {
	v, _ := r.Get("type")
	return v
}

// Escape applies SST escaping to a single key or value
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape
func Unescape(s string) string {
	return unescapeA.Replace(unescapeS.Replace(s))
}

// MarshalSST serializes the record into SST text including the trailing NUL
func MarshalSST(r Record) []byte {
	var b strings.Builder
	for _, p := range r {
		b.WriteString(Escape(p.Key))
		b.WriteString(pairSeparator)
		b.WriteString(Escape(p.Value))
		b.WriteString(pairTerminator)
	}
	b.WriteByte(0)
	return []byte(b.String())
}

// UnmarshalSST parses SST text. Trailing NUL bytes and a single trailing "/"
// are stripped before the pairs are split.
func UnmarshalSST(data []byte) (Record, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid UTF-8", ErrDecode)
	}

	text := strings.TrimRight(string(data), "\x00")
	text = strings.TrimSuffix(text, pairTerminator)
	if text == "" {
		return Record{}, nil
	}

	segments := strings.Split(text, pairTerminator)
	rec := make(Record, 0, len(segments))
	for i, seg := range segments {
		key, value, ok := strings.Cut(seg, pairSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: segment %d has no %q separator", ErrDecode, i, pairSeparator)
		}
		rec.Set(Unescape(key), Unescape(value))
	}
	return rec, nil
}
