// Package migration provides a revision-chain migration system: schema
// operations expressed as data, chain validation, an in-memory catalog used to
// verify revisions without a database, SQL dialects, distributed locking, and a
// runner that applies revisions against a live database.
package migration

import (
	"fmt"
	"strings"
)

// ColumnType is the portable type of a column. Dialects map it to SQL types.
type ColumnType int

const (
	Integer ColumnType = iota + 1
	String
	Boolean
	DateTime
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case String:
		return "string"
	case Boolean:
		return "boolean"
	case DateTime:
		return "datetime"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes a single table column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// ReferentialAction is the ON DELETE behaviour of a foreign key.
type ReferentialAction string

const (
	NoAction ReferentialAction = ""
	Cascade  ReferentialAction = "CASCADE"
	SetNull  ReferentialAction = "SET NULL"
)

// ForeignKey links columns of a table to columns of a referenced table.
// Name may be empty for foreign keys declared inline in CreateTable, in which
// case ConstraintName derives the database's default name.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   ReferentialAction
}

// ConstraintName returns the explicit name or the default
// "<table>_<columns>_fkey" name Postgres assigns to unnamed foreign keys.
func (fk ForeignKey) ConstraintName(table string) string {
	if fk.Name != "" {
		return fk.Name
	}
	return table + "_" + strings.Join(fk.Columns, "_") + "_fkey"
}

// UniqueConstraint is a table-level UNIQUE constraint.
type UniqueConstraint struct {
	Name    string
	Columns []string
}

// ConstraintName returns the explicit name or the default "<table>_<columns>_key".
func (u UniqueConstraint) ConstraintName(table string) string {
	if u.Name != "" {
		return u.Name
	}
	return table + "_" + strings.Join(u.Columns, "_") + "_key"
}

// Table is the shape of a table at creation time.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Uniques     []UniqueConstraint
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// AutoIncrement reports whether the table has a single integer primary key,
// which every dialect renders as an auto-assigned identity.
func (t Table) AutoIncrement() bool {
	if len(t.PrimaryKey) != 1 {
		return false
	}
	c, ok := t.Column(t.PrimaryKey[0])
	return ok && c.Type == Integer
}

func (t Table) clone() Table {
	out := Table{Name: t.Name}
	out.Columns = append([]Column(nil), t.Columns...)
	out.PrimaryKey = append([]string(nil), t.PrimaryKey...)
	for _, fk := range t.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, fk.clone())
	}
	for _, u := range t.Uniques {
		out.Uniques = append(out.Uniques, UniqueConstraint{Name: u.Name, Columns: append([]string(nil), u.Columns...)})
	}
	return out
}

func (fk ForeignKey) clone() ForeignKey {
	fk.Columns = append([]string(nil), fk.Columns...)
	fk.RefColumns = append([]string(nil), fk.RefColumns...)
	return fk
}

// Index is a (possibly unique) secondary index.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// Op is a single schema operation. Ops carry no SQL; a Dialect renders them.
type Op interface {
	Describe() string
}

// CreateTable creates a table with its columns, primary key, inline foreign
// keys and unique constraints.
type CreateTable struct {
	Table Table
}

func (o CreateTable) Describe() string { return "create table " + o.Table.Name }

// DropTable drops a table.
type DropTable struct {
	Name string
}

func (o DropTable) Describe() string { return "drop table " + o.Name }

// CreateIndex creates an index.
type CreateIndex struct {
	Index Index
}

func (o CreateIndex) Describe() string {
	return fmt.Sprintf("create index %s on %s", o.Index.Name, o.Index.Table)
}

// DropIndex drops an index from a table.
type DropIndex struct {
	Name  string
	Table string
}

func (o DropIndex) Describe() string { return fmt.Sprintf("drop index %s on %s", o.Name, o.Table) }

// AddForeignKey adds a foreign key to an existing table. It is how a revision
// closes a reference cycle once both tables exist.
type AddForeignKey struct {
	Table      string
	ForeignKey ForeignKey
}

func (o AddForeignKey) Describe() string {
	return fmt.Sprintf("add foreign key %s on %s", o.ForeignKey.ConstraintName(o.Table), o.Table)
}

// DropForeignKey removes a named foreign key constraint.
type DropForeignKey struct {
	Table string
	Name  string
}

func (o DropForeignKey) Describe() string {
	return fmt.Sprintf("drop foreign key %s on %s", o.Name, o.Table)
}
