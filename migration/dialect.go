package migration

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect renders operations into SQL statements for one database engine.
type Dialect interface {
	// Name returns the dialect name ("postgres", "sqlite").
	Name() string
	// Render returns the statements for an ordered list of operations. The
	// whole list is passed so a dialect can reorganise operations it cannot
	// express one by one.
	Render(ops []Op) ([]string, error)
	// Placeholder returns the bind parameter marker for the n-th (1-based) argument.
	Placeholder(n int) string
}

// DialectByName returns the dialect for a driver or dialect name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// RenderRevision renders one direction of a revision.
func RenderRevision(d Dialect, r Revision, dir Direction) ([]string, error) {
	stmts, err := d.Render(r.Ops(dir))
	if err != nil {
		return nil, fmt.Errorf("render revision %s %s: %w", r.ID, dir, err)
	}
	return stmts, nil
}

// Postgres renders PostgreSQL DDL. Every operation maps to one statement,
// including foreign keys added to existing tables.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (p Postgres) Render(ops []Op) ([]string, error) {
	stmts := make([]string, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case CreateTable:
			stmts = append(stmts, renderCreateTable(o.Table, o.Table.ForeignKeys, p.columnType, false))
		case DropTable:
			stmts = append(stmts, "DROP TABLE "+o.Name)
		case CreateIndex:
			stmts = append(stmts, renderCreateIndex(o.Index))
		case DropIndex:
			stmts = append(stmts, "DROP INDEX "+o.Name)
		case AddForeignKey:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
				o.Table, o.ForeignKey.ConstraintName(o.Table), renderForeignKeyBody(o.ForeignKey)))
		case DropForeignKey:
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", o.Table, o.Name))
		default:
			return nil, fmt.Errorf("postgres: unsupported operation %T", op)
		}
	}
	return stmts, nil
}

func (Postgres) columnType(t Table, c Column) string {
	if t.AutoIncrement() && t.PrimaryKey[0] == c.Name {
		return "SERIAL"
	}
	switch c.Type {
	case Integer:
		return "INTEGER"
	case String:
		return "VARCHAR"
	case Boolean:
		return "BOOLEAN"
	case DateTime:
		return "TIMESTAMP WITHOUT TIME ZONE"
	default:
		return "TEXT"
	}
}

// SQLite renders SQLite DDL. SQLite cannot add a foreign key to an existing
// table, but it does accept references to tables that do not exist yet, so
// AddForeignKey operations are folded into the CREATE TABLE of the same
// operation list and DropForeignKey renders nothing: the constraint goes away
// with its table.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (s SQLite) Render(ops []Op) ([]string, error) {
	created := make(map[string]bool)
	deferred := make(map[string][]ForeignKey)
	for _, op := range ops {
		switch o := op.(type) {
		case CreateTable:
			created[o.Table.Name] = true
		case AddForeignKey:
			if !created[o.Table] {
				return nil, fmt.Errorf("sqlite: cannot add foreign key %s to existing table %s",
					o.ForeignKey.ConstraintName(o.Table), o.Table)
			}
			fk := o.ForeignKey
			fk.Name = fk.ConstraintName(o.Table)
			deferred[o.Table] = append(deferred[o.Table], fk)
		}
	}

	stmts := make([]string, 0, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case CreateTable:
			fks := append(append([]ForeignKey(nil), o.Table.ForeignKeys...), deferred[o.Table.Name]...)
			stmts = append(stmts, renderCreateTable(o.Table, fks, s.columnType, o.Table.AutoIncrement()))
		case DropTable:
			stmts = append(stmts, "DROP TABLE "+o.Name)
		case CreateIndex:
			stmts = append(stmts, renderCreateIndex(o.Index))
		case DropIndex:
			stmts = append(stmts, "DROP INDEX "+o.Name)
		case AddForeignKey, DropForeignKey:
		default:
			return nil, fmt.Errorf("sqlite: unsupported operation %T", op)
		}
	}
	return stmts, nil
}

func (SQLite) columnType(t Table, c Column) string {
	if t.AutoIncrement() && t.PrimaryKey[0] == c.Name {
		return "INTEGER PRIMARY KEY"
	}
	switch c.Type {
	case Integer:
		return "INTEGER"
	case String:
		return "TEXT"
	case Boolean:
		return "BOOLEAN"
	case DateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// renderCreateTable renders a CREATE TABLE statement. inlineKey means the
// primary key is already declared on its column.
func renderCreateTable(t Table, fks []ForeignKey, colType func(Table, Column) string, inlineKey bool) string {
	var parts []string
	for _, c := range t.Columns {
		def := "\t" + c.Name + " " + colType(t, c)
		if !c.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}

	if len(t.PrimaryKey) > 0 && !inlineKey {
		parts = append(parts, "\tPRIMARY KEY ("+strings.Join(t.PrimaryKey, ", ")+")")
	}
	for _, fk := range fks {
		def := "\t"
		if fk.Name != "" {
			def += "CONSTRAINT " + fk.Name + " "
		}
		parts = append(parts, def+renderForeignKeyBody(fk))
	}
	for _, u := range t.Uniques {
		def := "\t"
		if u.Name != "" {
			def += "CONSTRAINT " + u.Name + " "
		}
		parts = append(parts, def+"UNIQUE ("+strings.Join(u.Columns, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", t.Name, strings.Join(parts, ",\n"))
}

func renderForeignKeyBody(fk ForeignKey) string {
	s := fmt.Sprintf("FOREIGN KEY(%s) REFERENCES %s (%s)",
		strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
	if fk.OnDelete != NoAction {
		s += " ON DELETE " + string(fk.OnDelete)
	}
	return s
}

func renderCreateIndex(idx Index) string {
	kw := "INDEX"
	if idx.Unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, idx.Name, idx.Table, strings.Join(idx.Columns, ", "))
}
