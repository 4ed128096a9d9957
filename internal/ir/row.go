package ir

// Row is the raw data the store returns for one record.
//
// Fields holds plain columns only. Association columns are split into Links:
// a TO_ONE link always carries the target key (zero when the column is null)
// and carries an inline Row when the query join-fetched it. A join-fetched
// TO_MANY link carries exactly one associated row, since the join returns one
// result row per associated record.
type Row struct {
	Key    RecordKey       `json:"key"`
	Fields IRObject        `json:"fields"`
	Links  map[string]Link `json:"links,omitempty"`
}

// Link is the value of one association column in a Row.
type Link struct {
	Key    RecordKey `json:"key"`
	Inline *Row      `json:"inline,omitempty"`
}

// IsNull reports whether the link points at no record.
func (l Link) IsNull() bool {
	return l.Key.IsZero()
}
