package ir

import (
	"fmt"
	"strings"
)

// RecordKey identifies one record: a type discriminator plus its primary key.
//
// PK holds the canonical JSON encoding of the primary-key value, so the key
// is comparable and usable directly as a map key. IRInt(1) and IRString("1")
// produce different keys.
type RecordKey struct {
	TypeID string `json:"type_id"`
	PK     string `json:"pk"`
}

// NewRecordKey builds a key from a type name and a primary-key value.
// Only string and int primary keys are supported.
func NewRecordKey(typeID string, pk IRValue) (RecordKey, error) {
	if typeID == "" {
		return RecordKey{}, fmt.Errorf("record key: empty type id")
	}
	switch pk.(type) {
	case IRString, IRInt:
	default:
		return RecordKey{}, fmt.Errorf("record key %s: primary key must be string or int, got %T", typeID, pk)
	}
	canonical, err := MarshalCanonical(pk)
	if err != nil {
		return RecordKey{}, fmt.Errorf("record key %s: %w", typeID, err)
	}
	return RecordKey{TypeID: typeID, PK: string(canonical)}, nil
}

// MustKey is like NewRecordKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustKey(typeID string, pk IRValue) RecordKey {
	k, err := NewRecordKey(typeID, pk)
	if err != nil {
		panic(err)
	}
	return k
}

// PrimaryKey decodes the primary-key value.
func (k RecordKey) PrimaryKey() IRValue {
	v, err := ParseValue([]byte(k.PK))
	if err != nil {
		return IRString(k.PK)
	}
	return v
}

// IsZero reports whether k is the zero key (a null association).
func (k RecordKey) IsZero() bool {
	return k.TypeID == "" && k.PK == ""
}

// String renders the key as Type#pk, e.g. Member#1 or Team#"t1".
func (k RecordKey) String() string {
	if k.IsZero() {
		return "<nil>"
	}
	return k.TypeID + "#" + k.PK
}

// ParseRecordKey is the inverse of String.
func ParseRecordKey(s string) (RecordKey, error) {
	typeID, pk, ok := strings.Cut(s, "#")
	if !ok || typeID == "" || pk == "" {
		return RecordKey{}, fmt.Errorf("invalid record key %q: want Type#pk", s)
	}
	v, err := ParseValue([]byte(pk))
	if err != nil {
		return RecordKey{}, fmt.Errorf("invalid record key %q: %w", s, err)
	}
	return NewRecordKey(typeID, v)
}

// CompareKeys orders keys by type id, then by canonical primary key bytes.
func CompareKeys(a, b RecordKey) int {
	if c := strings.Compare(a.TypeID, b.TypeID); c != 0 {
		return c
	}
	return strings.Compare(a.PK, b.PK)
}
