package migration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCatalogConflict is returned when an operation cannot be applied to the
// current schema, e.g. creating a table that exists or dropping one that is
// still referenced.
var ErrCatalogConflict = errors.New("schema conflict")

// Catalog is an in-memory model of a database schema. Applying operations to
// it checks a revision against the state its predecessor leaves behind without
// touching a database.
type Catalog struct {
	tables  map[string]*catalogTable
	indexes map[string]Index
}

type catalogTable struct {
	def         Table
	foreignKeys map[string]ForeignKey
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tables:  make(map[string]*catalogTable),
		indexes: make(map[string]Index),
	}
}

// Clone returns a deep copy.
func (c *Catalog) Clone() *Catalog {
	out := NewCatalog()
	for name, t := range c.tables {
		ct := &catalogTable{def: t.def.clone(), foreignKeys: make(map[string]ForeignKey, len(t.foreignKeys))}
		for fkName, fk := range t.foreignKeys {
			ct.foreignKeys[fkName] = fk.clone()
		}
		out.tables[name] = ct
	}
	for name, idx := range c.indexes {
		idx.Columns = append([]string(nil), idx.Columns...)
		out.indexes[name] = idx
	}
	return out
}

// Empty reports whether the catalog holds no tables and no indexes.
func (c *Catalog) Empty() bool { return len(c.tables) == 0 && len(c.indexes) == 0 }

// TableNames returns the table names in sorted order.
func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IndexNames returns the index names in sorted order.
func (c *Catalog) IndexNames() []string {
	names := make([]string, 0, len(c.indexes))
	for n := range c.indexes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Table returns the current shape of a table. ForeignKeys includes keys added
// after creation, each with its constraint name filled in, sorted by name.
func (c *Catalog) Table(name string) (Table, bool) {
	t, ok := c.tables[name]
	if !ok {
		return Table{}, false
	}
	out := t.def.clone()
	out.ForeignKeys = nil
	for _, n := range sortedKeys(t.foreignKeys) {
		fk := t.foreignKeys[n].clone()
		fk.Name = n
		out.ForeignKeys = append(out.ForeignKeys, fk)
	}
	return out, true
}

// Index returns the named index.
func (c *Catalog) Index(name string) (Index, bool) {
	idx, ok := c.indexes[name]
	return idx, ok
}

// ApplyRevision applies every operation of one direction of a revision.
func (c *Catalog) ApplyRevision(r Revision, dir Direction) error {
	for _, s := range r.Steps(dir) {
		for _, op := range s.Ops {
			if err := c.Apply(op); err != nil {
				return fmt.Errorf("revision %s %s step %q: %w", r.ID, dir, s.Name, err)
			}
		}
	}
	return nil
}

// Apply applies one operation, failing if the current schema cannot accept it.
func (c *Catalog) Apply(op Op) error {
	switch o := op.(type) {
	case CreateTable:
		return c.createTable(o.Table)
	case DropTable:
		return c.dropTable(o.Name)
	case CreateIndex:
		return c.createIndex(o.Index)
	case DropIndex:
		return c.dropIndex(o.Name, o.Table)
	case AddForeignKey:
		return c.addForeignKey(o.Table, o.ForeignKey)
	case DropForeignKey:
		return c.dropForeignKey(o.Table, o.Name)
	default:
		return fmt.Errorf("unsupported operation %T", op)
	}
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCatalogConflict, fmt.Sprintf(format, args...))
}

func (c *Catalog) createTable(t Table) error {
	if _, exists := c.tables[t.Name]; exists {
		return conflictf("table %s already exists", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if seen[col.Name] {
			return conflictf("table %s declares column %s twice", t.Name, col.Name)
		}
		seen[col.Name] = true
	}
	for _, pk := range t.PrimaryKey {
		if !seen[pk] {
			return conflictf("table %s primary key uses missing column %s", t.Name, pk)
		}
	}
	for _, u := range t.Uniques {
		for _, col := range u.Columns {
			if !seen[col] {
				return conflictf("table %s unique %s uses missing column %s", t.Name, u.ConstraintName(t.Name), col)
			}
		}
	}

	ct := &catalogTable{def: t.clone(), foreignKeys: make(map[string]ForeignKey)}
	ct.def.ForeignKeys = nil
	c.tables[t.Name] = ct
	for _, fk := range t.ForeignKeys {
		if err := c.addForeignKey(t.Name, fk); err != nil {
			delete(c.tables, t.Name)
			return err
		}
	}
	return nil
}

func (c *Catalog) dropTable(name string) error {
	if _, ok := c.tables[name]; !ok {
		return conflictf("table %s does not exist", name)
	}
	for _, other := range c.TableNames() {
		if other == name {
			continue
		}
		for fkName, fk := range c.tables[other].foreignKeys {
			if fk.RefTable == name {
				return conflictf("table %s is still referenced by %s.%s", name, other, fkName)
			}
		}
	}
	for _, idxName := range c.IndexNames() {
		if c.indexes[idxName].Table == name {
			return conflictf("table %s still has index %s", name, idxName)
		}
	}
	delete(c.tables, name)
	return nil
}

func (c *Catalog) createIndex(idx Index) error {
	if _, exists := c.indexes[idx.Name]; exists {
		return conflictf("index %s already exists", idx.Name)
	}
	t, ok := c.tables[idx.Table]
	if !ok {
		return conflictf("index %s on missing table %s", idx.Name, idx.Table)
	}
	for _, col := range idx.Columns {
		if _, ok := t.def.Column(col); !ok {
			return conflictf("index %s uses missing column %s.%s", idx.Name, idx.Table, col)
		}
	}
	idx.Columns = append([]string(nil), idx.Columns...)
	c.indexes[idx.Name] = idx
	return nil
}

func (c *Catalog) dropIndex(name, table string) error {
	idx, ok := c.indexes[name]
	if !ok {
		return conflictf("index %s does not exist", name)
	}
	if table != "" && idx.Table != table {
		return conflictf("index %s belongs to %s, not %s", name, idx.Table, table)
	}
	delete(c.indexes, name)
	return nil
}

func (c *Catalog) addForeignKey(table string, fk ForeignKey) error {
	t, ok := c.tables[table]
	if !ok {
		return conflictf("foreign key on missing table %s", table)
	}
	name := fk.ConstraintName(table)
	if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
		return conflictf("constraint %s has mismatched column lists", name)
	}
	for _, col := range fk.Columns {
		if _, ok := t.def.Column(col); !ok {
			return conflictf("constraint %s uses missing column %s.%s", name, table, col)
		}
	}
	ref, ok := c.tables[fk.RefTable]
	if !ok {
		return conflictf("constraint %s references missing table %s", name, fk.RefTable)
	}
	for _, col := range fk.RefColumns {
		if _, ok := ref.def.Column(col); !ok {
			return conflictf("constraint %s references missing column %s.%s", name, fk.RefTable, col)
		}
	}
	if _, exists := t.foreignKeys[name]; exists {
		return conflictf("constraint %s already exists on %s", name, table)
	}
	t.foreignKeys[name] = fk.clone()
	return nil
}

func (c *Catalog) dropForeignKey(table, name string) error {
	t, ok := c.tables[table]
	if !ok {
		return conflictf("drop constraint %s on missing table %s", name, table)
	}
	if _, ok := t.foreignKeys[name]; !ok {
		return conflictf("constraint %s does not exist on %s", name, table)
	}
	delete(t.foreignKeys, name)
	return nil
}

// Diff compares c (the expected schema) with other and returns one line per
// difference, sorted. "-" marks objects only in c, "+" objects only in other,
// "~" objects present in both with a different shape.
func (c *Catalog) Diff(other *Catalog) []string {
	var out []string

	for name, t := range c.tables {
		o, ok := other.tables[name]
		if !ok {
			out = append(out, "- table "+name)
			continue
		}
		out = append(out, diffTable(name, t, o)...)
	}
	for name := range other.tables {
		if _, ok := c.tables[name]; !ok {
			out = append(out, "+ table "+name)
		}
	}

	for name, idx := range c.indexes {
		o, ok := other.indexes[name]
		if !ok {
			out = append(out, "- index "+name)
			continue
		}
		if describeIndex(idx) != describeIndex(o) {
			out = append(out, fmt.Sprintf("~ index %s: %s != %s", name, describeIndex(idx), describeIndex(o)))
		}
	}
	for name := range other.indexes {
		if _, ok := c.indexes[name]; !ok {
			out = append(out, "+ index "+name)
		}
	}

	sort.Strings(out)
	return out
}

func diffTable(name string, a, b *catalogTable) []string {
	var out []string

	aCols := columnMap(a.def.Columns)
	bCols := columnMap(b.def.Columns)
	for col, def := range aCols {
		other, ok := bCols[col]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("- column %s.%s", name, col))
		case other != def:
			out = append(out, fmt.Sprintf("~ column %s.%s: %s != %s", name, col, def, other))
		}
	}
	for col := range bCols {
		if _, ok := aCols[col]; !ok {
			out = append(out, fmt.Sprintf("+ column %s.%s", name, col))
		}
	}

	if strings.Join(a.def.PrimaryKey, ",") != strings.Join(b.def.PrimaryKey, ",") {
		out = append(out, fmt.Sprintf("~ primary key %s: (%s) != (%s)", name,
			strings.Join(a.def.PrimaryKey, ", "), strings.Join(b.def.PrimaryKey, ", ")))
	}

	for fkName, fk := range a.foreignKeys {
		other, ok := b.foreignKeys[fkName]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("- constraint %s.%s", name, fkName))
		case describeForeignKey(fk) != describeForeignKey(other):
			out = append(out, fmt.Sprintf("~ constraint %s.%s: %s != %s", name, fkName,
				describeForeignKey(fk), describeForeignKey(other)))
		}
	}
	for fkName := range b.foreignKeys {
		if _, ok := a.foreignKeys[fkName]; !ok {
			out = append(out, fmt.Sprintf("+ constraint %s.%s", name, fkName))
		}
	}

	aUniq := uniqueMap(name, a.def.Uniques)
	bUniq := uniqueMap(name, b.def.Uniques)
	for uName, cols := range aUniq {
		if other, ok := bUniq[uName]; !ok {
			out = append(out, fmt.Sprintf("- constraint %s.%s", name, uName))
		} else if other != cols {
			out = append(out, fmt.Sprintf("~ constraint %s.%s: (%s) != (%s)", name, uName, cols, other))
		}
	}
	for uName := range bUniq {
		if _, ok := aUniq[uName]; !ok {
			out = append(out, fmt.Sprintf("+ constraint %s.%s", name, uName))
		}
	}
	return out
}

func columnMap(cols []Column) map[string]string {
	m := make(map[string]string, len(cols))
	for _, c := range cols {
		def := c.Type.String()
		if !c.Nullable {
			def += " not null"
		}
		m[c.Name] = def
	}
	return m
}

func uniqueMap(table string, uniques []UniqueConstraint) map[string]string {
	m := make(map[string]string, len(uniques))
	for _, u := range uniques {
		m[u.ConstraintName(table)] = strings.Join(u.Columns, ", ")
	}
	return m
}

func describeIndex(idx Index) string {
	s := fmt.Sprintf("%s(%s)", idx.Table, strings.Join(idx.Columns, ", "))
	if idx.Unique {
		s = "unique " + s
	}
	return s
}

func describeForeignKey(fk ForeignKey) string {
	s := fmt.Sprintf("(%s) -> %s(%s)", strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
	if fk.OnDelete != NoAction {
		s += " on delete " + strings.ToLower(string(fk.OnDelete))
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// VerifyRevision applies the revision's upgrade to a copy of base, then its
// downgrade, and fails unless the downgrade restores base exactly. It returns
// the post-upgrade catalog so a caller can continue along the chain.
func VerifyRevision(base *Catalog, r Revision) (*Catalog, error) {
	upgraded := base.Clone()
	if err := upgraded.ApplyRevision(r, Up); err != nil {
		return nil, err
	}

	reverted := upgraded.Clone()
	if err := reverted.ApplyRevision(r, Down); err != nil {
		return nil, err
	}

	if diff := base.Diff(reverted); len(diff) > 0 {
		return nil, fmt.Errorf("revision %s: downgrade does not restore %s: %s",
			r.ID, label(r.DownRevision), strings.Join(diff, "; "))
	}
	return upgraded, nil
}
