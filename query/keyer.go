package query

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/jonwraymond/queryops/procedure"
)

// Keyer derives deterministic cache keys from a procedure path and input.
//
// Contract:
// - Determinism: structurally equal inputs must produce the same key,
//   regardless of map iteration or struct field order.
// - Separation: keys for different paths or kinds must never collide.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key derives the cache key for one procedure input.
	Key(path string, kind Kind, input any) (string, error)
}

// keyPrefix namespaces every derived cache key.
const keyPrefix = "query"

// DefaultKeyer derives SHA-256 based cache keys from canonical JSON.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key derives a deterministic cache key.
// Format: query:<path>:<kind>:<hash>
// where hash is the first 16 hex characters of SHA-256(Canonical(input)).
func (k *DefaultKeyer) Key(path string, kind Kind, input any) (string, error) {
	if err := procedure.ValidatePath(path); err != nil {
		return "", err
	}
	canonical, err := Canonical(input)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(canonical)
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, path, kind, hex.EncodeToString(hash[:8])), nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)

// Canonical produces the deterministic JSON form an input is hashed under.
//
// The input is first marshaled with encoding/json, so anything serializable
// as JSON is accepted. The result is then re-encoded with object keys sorted,
// strings NFC-normalized, numbers kept verbatim, and HTML escaping disabled.
// A nil input canonicalizes to the JSON literal null, which is distinct from
// an empty object or array.
func Canonical(input any) ([]byte, error) {
	if input == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return encodeCanonicalString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		return encodeCanonicalMap(buf, val)
	default:
		return fmt.Errorf("%w: unexpected type %T", ErrUnserializable, v)
	}
	return nil
}

func encodeCanonicalMap(buf *bytes.Buffer, m map[string]any) error {
	// Normalize keys before sorting so equivalent Unicode spellings order
	// and encode identically.
	keys := make([]string, 0, len(m))
	byKey := make(map[string]any, len(m))
	for k, v := range m {
		nk := norm.NFC.String(k)
		keys = append(keys, nk)
		byKey[nk] = v
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeCanonical(buf, byKey[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeCanonicalString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	// Encode appends a newline; canonical form has none.
	b := buf.Bytes()
	if len(b) > 0 && b[len(b)-1] == '\n' {
		buf.Truncate(len(b) - 1)
	}
	return nil
}
