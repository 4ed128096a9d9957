package session

import (
	"github.com/roach88/pcx/internal/ir"
)

// checkField validates v against the declared type of et's field name.
func checkField(et *ir.EntityType, name string, v ir.IRValue) error {
	f, ok := et.Field(name)
	if !ok {
		return newError(ErrCodeUnknownField, ir.RecordKey{}, "%s has no field %q", et.Name, name)
	}
	if v == nil {
		v = ir.IRNull{}
	}
	if _, isNull := v.(ir.IRNull); isNull {
		if !f.Nullable {
			return newError(ErrCodeInvalidValue, ir.RecordKey{}, "%s.%s is not nullable", et.Name, name)
		}
		return nil
	}

	var match bool
	switch f.Type {
	case ir.FieldString:
		_, match = v.(ir.IRString)
	case ir.FieldInt:
		_, match = v.(ir.IRInt)
	case ir.FieldBool:
		_, match = v.(ir.IRBool)
	case ir.FieldJSON:
		match = true
	}
	if !match {
		return newError(ErrCodeInvalidValue, ir.RecordKey{}, "%s.%s expects %s, got %T", et.Name, name, f.Type, v)
	}
	return nil
}

// checkFields validates every entry of fields, skipping the id field.
func checkFields(et *ir.EntityType, fields ir.IRObject) error {
	for _, name := range fields.SortedKeys() {
		if name == et.IDField {
			continue
		}
		if err := checkField(et, name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}
