package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcx/internal/ir"
)

func validSchema() []ir.EntityType {
	return []ir.EntityType{
		{
			Name: "Team", IDField: "id", IDStrategy: ir.IDIdentity,
			Fields: []ir.FieldDef{{Name: "name", Type: ir.FieldString}},
			Associations: []ir.Association{
				{Name: "members", Target: "Member", Cardinality: ir.ToMany, Fetch: ir.FetchLazy, MappedBy: "team"},
			},
		},
		{
			Name: "Member", IDField: "id", IDStrategy: ir.IDIdentity,
			Fields: []ir.FieldDef{{Name: "name", Type: ir.FieldString}},
			Associations: []ir.Association{
				{Name: "team", Target: "Team", Cardinality: ir.ToOne, Fetch: ir.FetchEager, Column: "team_id"},
			},
		},
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	assert.Empty(t, Validate(ir.NewSchema(validSchema()...)))
}

func TestValidate_Empty(t *testing.T) {
	assert.Equal(t, []string{ErrNoEntities}, codes(Validate(ir.NewSchema())))
	assert.Equal(t, []string{ErrNoEntities}, codes(Validate(nil)))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(es []ir.EntityType)
		code   string
		field  string
	}{
		{
			name:   "unknown target",
			mutate: func(es []ir.EntityType) { es[0].Associations[0].Target = "Squad" },
			code:   ErrUnknownTarget,
			field:  "entity.Team.associations.members.target",
		},
		{
			name:   "mapped_by missing",
			mutate: func(es []ir.EntityType) { es[0].Associations[0].MappedBy = "" },
			code:   ErrInvalidMappedBy,
			field:  "entity.Team.associations.members.mapped_by",
		},
		{
			name:   "mapped_by names a field",
			mutate: func(es []ir.EntityType) { es[0].Associations[0].MappedBy = "name" },
			code:   ErrInvalidMappedBy,
			field:  "entity.Team.associations.members.mapped_by",
		},
		{
			name:   "field type",
			mutate: func(es []ir.EntityType) { es[0].Fields[0].Type = "date" },
			code:   ErrInvalidFieldType,
			field:  "entity.Team.fields.name",
		},
		{
			name:   "float field",
			mutate: func(es []ir.EntityType) { es[0].Fields[0].Type = "float64" },
			code:   ErrFloatTypeForbidden,
			field:  "entity.Team.fields.name",
		},
		{
			name:   "fetch enum",
			mutate: func(es []ir.EntityType) { es[1].Associations[0].Fetch = "sometimes" },
			code:   ErrInvalidEnum,
			field:  "entity.Member.associations.team.fetch",
		},
		{
			name:   "cardinality enum",
			mutate: func(es []ir.EntityType) { es[0].Associations[0].Cardinality = "many_to_many" },
			code:   ErrInvalidEnum,
			field:  "entity.Team.associations.members.cardinality",
		},
		{
			name:   "id strategy enum",
			mutate: func(es []ir.EntityType) { es[0].IDStrategy = "uuid" },
			code:   ErrInvalidEnum,
			field:  "entity.Team.id.strategy",
		},
		{
			name: "duplicate field",
			mutate: func(es []ir.EntityType) {
				es[0].Fields = append(es[0].Fields, ir.FieldDef{Name: "name", Type: ir.FieldInt})
			},
			code:  ErrDuplicateName,
			field: "entity.Team.fields.name",
		},
		{
			name:   "column collides with field",
			mutate: func(es []ir.EntityType) { es[1].Associations[0].Column = "name" },
			code:   ErrDuplicateName,
			field:  "entity.Member.associations.team.column",
		},
		{
			name:   "to_one without column",
			mutate: func(es []ir.EntityType) { es[1].Associations[0].Column = "" },
			code:   ErrInvalidColumn,
			field:  "entity.Member.associations.team.column",
		},
		{
			name:   "field shadows id",
			mutate: func(es []ir.EntityType) { es[0].Fields[0].Name = "id" },
			code:   ErrInvalidIDField,
			field:  "entity.Team.fields.id",
		},
		{
			name:   "entity name",
			mutate: func(es []ir.EntityType) { es[0].Name = "Team#1"; es[1].Associations[0].Target = "Team#1" },
			code:   ErrInvalidName,
			field:  "entity.Team#1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := validSchema()
			tt.mutate(es)
			errs := Validate(ir.NewSchema(es...))
			require.Len(t, errs, 1, "errors: %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidate_MappedByPointsElsewhere(t *testing.T) {
	es := append(validSchema(), ir.EntityType{
		Name: "League", IDField: "id", IDStrategy: ir.IDIdentity,
		Associations: []ir.Association{
			{Name: "members", Target: "Member", Cardinality: ir.ToMany, Fetch: ir.FetchLazy, MappedBy: "team"},
		},
	})

	errs := Validate(ir.NewSchema(es...))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidMappedBy, errs[0].Code)
	assert.Contains(t, errs[0].Message, "points at Team, not League")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	es := validSchema()
	es[0].Fields[0].Type = "date"
	es[0].Associations[0].Target = "Squad"

	assert.Len(t, Validate(ir.NewSchema(es...)), 2)
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "entity.Team", Message: "bad", Code: ErrInvalidName}
	assert.Equal(t, "[E101] entity.Team: bad", err.Error())
}
