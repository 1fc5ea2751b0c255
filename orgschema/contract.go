package orgschema

import (
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"

	"github.com/GoCodeAlone/missioncontrol/migration"
)

// Mismatch is one disagreement between a row model and the schema.
type Mismatch struct {
	Table   string
	Column  string
	Problem string
}

func (m Mismatch) String() string {
	if m.Column == "" {
		return m.Table + ": " + m.Problem
	}
	return m.Table + "." + m.Column + ": " + m.Problem
}

var columnTypes = map[schema.DataType]migration.ColumnType{
	schema.Bool:   migration.Boolean,
	schema.Int:    migration.Integer,
	schema.Uint:   migration.Integer,
	schema.String: migration.String,
	schema.Time:   migration.DateTime,
}

// CheckModels compares row models against the tables of cat. With no models
// given it checks Models(). Pointer fields must map to nullable columns and
// value fields to NOT NULL columns; gorm index tags must name an index that
// exists on the same column.
func CheckModels(cat *migration.Catalog, models ...any) ([]Mismatch, error) {
	if len(models) == 0 {
		models = Models()
	}

	cache := &sync.Map{}
	var out []Mismatch
	for _, model := range models {
		s, err := schema.Parse(model, cache, schema.NamingStrategy{})
		if err != nil {
			return nil, fmt.Errorf("parse model %T: %w", model, err)
		}

		table, ok := cat.Table(s.Table)
		if !ok {
			out = append(out, Mismatch{Table: s.Table, Problem: "table missing from schema"})
			continue
		}

		for _, name := range s.DBNames {
			out = append(out, checkField(cat, table, s.FieldsByDBName[name])...)
		}
		for _, col := range table.Columns {
			if _, ok := s.FieldsByDBName[col.Name]; !ok {
				out = append(out, Mismatch{Table: table.Name, Column: col.Name, Problem: fmt.Sprintf("column not mapped by %s", s.Name)})
			}
		}
	}
	return out, nil
}

func checkField(cat *migration.Catalog, table migration.Table, f *schema.Field) []Mismatch {
	col, ok := table.Column(f.DBName)
	if !ok {
		return []Mismatch{{Table: table.Name, Column: f.DBName, Problem: fmt.Sprintf("field %s has no column", f.Name)}}
	}

	var out []Mismatch
	problem := func(format string, args ...any) {
		out = append(out, Mismatch{Table: table.Name, Column: col.Name, Problem: fmt.Sprintf(format, args...)})
	}

	if want, ok := columnTypes[f.DataType]; !ok || want != col.Type {
		problem("field %s is %s, column is %s", f.Name, f.DataType, col.Type)
	}

	pointer := f.FieldType.Kind() == reflect.Ptr
	switch {
	case pointer && !col.Nullable:
		problem("field %s is a pointer but the column is NOT NULL", f.Name)
	case !pointer && col.Nullable:
		problem("field %s is not a pointer but the column is nullable", f.Name)
	}

	for tag, unique := range map[string]bool{"INDEX": false, "UNIQUEINDEX": true} {
		name, ok := f.TagSettings[tag]
		if !ok || name == "" || name == tag {
			continue
		}
		idx, ok := cat.Index(name)
		switch {
		case !ok:
			problem("index %s does not exist", name)
		case idx.Table != table.Name || len(idx.Columns) != 1 || idx.Columns[0] != col.Name:
			problem("index %s does not cover %s", name, col.Name)
		case idx.Unique != unique:
			problem("index %s uniqueness is %v, model says %v", name, idx.Unique, unique)
		}
	}
	return out
}
