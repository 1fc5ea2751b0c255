package migration

import (
	"errors"
	"reflect"
	"testing"
)

// groupsRevision creates two tables that reference each other: groups.owner_id
// points at members, members.group_id points at groups. The cycle is closed in
// a separate step.
func groupsRevision() Revision {
	return Revision{
		ID:      "aaaa00000001",
		Message: "groups and members",
		Upgrade: []Step{
			{Name: "create groups", Ops: []Op{
				CreateTable{Table: Table{
					Name: "groups",
					Columns: []Column{
						{Name: "id", Type: Integer},
						{Name: "name", Type: String},
						{Name: "owner_id", Type: Integer, Nullable: true},
					},
					PrimaryKey: []string{"id"},
				}},
				CreateIndex{Index: Index{Name: "ix_groups_name", Table: "groups", Columns: []string{"name"}, Unique: true}},
			}},
			{Name: "create members", Ops: []Op{
				CreateTable{Table: Table{
					Name: "members",
					Columns: []Column{
						{Name: "id", Type: Integer},
						{Name: "group_id", Type: Integer},
						{Name: "sponsor_id", Type: Integer, Nullable: true},
					},
					PrimaryKey: []string{"id"},
					ForeignKeys: []ForeignKey{
						{Columns: []string{"group_id"}, RefTable: "groups", RefColumns: []string{"id"}, OnDelete: Cascade},
						{Columns: []string{"sponsor_id"}, RefTable: "members", RefColumns: []string{"id"}, OnDelete: SetNull},
					},
				}},
			}},
			{Name: "link groups.owner_id", Ops: []Op{
				AddForeignKey{Table: "groups", ForeignKey: ForeignKey{
					Columns: []string{"owner_id"}, RefTable: "members", RefColumns: []string{"id"}, OnDelete: SetNull,
				}},
			}},
		},
		Downgrade: []Step{
			{Name: "unlink groups.owner_id", Ops: []Op{
				DropForeignKey{Table: "groups", Name: "groups_owner_id_fkey"},
			}},
			{Name: "drop members", Ops: []Op{DropTable{Name: "members"}}},
			{Name: "drop groups", Ops: []Op{
				DropIndex{Name: "ix_groups_name", Table: "groups"},
				DropTable{Name: "groups"},
			}},
		},
	}
}

func postsRevision() Revision {
	return Revision{
		ID:           "bbbb00000002",
		DownRevision: "aaaa00000001",
		Message:      "posts",
		Upgrade: []Step{
			{Name: "create posts", Ops: []Op{
				CreateTable{Table: Table{
					Name: "posts",
					Columns: []Column{
						{Name: "id", Type: Integer},
						{Name: "author_id", Type: Integer, Nullable: true},
						{Name: "body", Type: String},
						{Name: "published", Type: Boolean},
						{Name: "created_at", Type: DateTime},
					},
					PrimaryKey: []string{"id"},
					ForeignKeys: []ForeignKey{
						{Name: "fk_posts_author_id_members", Columns: []string{"author_id"}, RefTable: "members", RefColumns: []string{"id"}},
					},
				}},
				CreateIndex{Index: Index{Name: "ix_posts_author_id", Table: "posts", Columns: []string{"author_id"}}},
			}},
		},
		Downgrade: []Step{
			{Name: "drop posts", Ops: []Op{
				DropIndex{Name: "ix_posts_author_id", Table: "posts"},
				DropTable{Name: "posts"},
			}},
		},
	}
}

func newFixtureChain(t *testing.T) *Chain {
	t.Helper()
	c, err := NewChain(postsRevision(), groupsRevision())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return c
}

func TestNewChain_OrdersRootToHead(t *testing.T) {
	c := newFixtureChain(t)

	if c.Len() != 2 {
		t.Fatalf("expected 2 revisions, got %d", c.Len())
	}
	if c.Base().ID != "aaaa00000001" {
		t.Errorf("expected base aaaa00000001, got %s", c.Base().ID)
	}
	if c.Head().ID != "bbbb00000002" {
		t.Errorf("expected head bbbb00000002, got %s", c.Head().ID)
	}
}

func TestNewChain_Rejects(t *testing.T) {
	root := Revision{ID: "r1"}
	tests := []struct {
		name string
		revs []Revision
		want error
	}{
		{"empty", nil, ErrEmptyChain},
		{"no id", []Revision{{Message: "oops"}}, ErrInvalidRevision},
		{"duplicate", []Revision{root, {ID: "r1"}}, ErrDuplicateRevision},
		{"missing predecessor", []Revision{root, {ID: "r2", DownRevision: "r9"}}, ErrMissingPredecessor},
		{"two roots", []Revision{root, {ID: "r2"}}, ErrMultipleRoots},
		{"branch", []Revision{root, {ID: "r2", DownRevision: "r1"}, {ID: "r3", DownRevision: "r1"}}, ErrBranchedChain},
		{"self reference", []Revision{{ID: "r1", DownRevision: "r1"}}, ErrCycle},
		{"cycle without root", []Revision{{ID: "r1", DownRevision: "r2"}, {ID: "r2", DownRevision: "r1"}}, ErrCycle},
		{"detached cycle", []Revision{
			root,
			{ID: "r2", DownRevision: "r1"},
			{ID: "x1", DownRevision: "x2"},
			{ID: "x2", DownRevision: "x1"},
		}, ErrCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChain(tt.revs...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var ce *ChainError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ChainError, got %T", err)
			}
		})
	}
}

func TestChain_Resolve(t *testing.T) {
	c := newFixtureChain(t)

	tests := []struct {
		target string
		want   string
		err    error
	}{
		{"head", "bbbb00000002", nil},
		{"base", "", nil},
		{"", "", nil},
		{"aaaa00000001", "aaaa00000001", nil},
		{"bbbb", "bbbb00000002", nil},
		{"cccc", "", ErrUnknownRevision},
	}
	for _, tt := range tests {
		got, err := c.Resolve(tt.target)
		if !errors.Is(err, tt.err) {
			t.Errorf("Resolve(%q) error = %v, want %v", tt.target, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestChain_ResolveAmbiguousPrefix(t *testing.T) {
	c, err := NewChain(Revision{ID: "abc1"}, Revision{ID: "abc2", DownRevision: "abc1"})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	if _, err := c.Resolve("abc"); !errors.Is(err, ErrAmbiguousRevision) {
		t.Fatalf("expected ErrAmbiguousRevision, got %v", err)
	}
}

func ids(revs []Revision) []string {
	out := make([]string, 0, len(revs))
	for _, r := range revs {
		out = append(out, r.ID)
	}
	return out
}

func TestChain_Paths(t *testing.T) {
	c := newFixtureChain(t)

	up, err := c.UpgradePath("base", "head")
	if err != nil {
		t.Fatalf("UpgradePath: %v", err)
	}
	if want := []string{"aaaa00000001", "bbbb00000002"}; !reflect.DeepEqual(ids(up), want) {
		t.Errorf("upgrade path = %v, want %v", ids(up), want)
	}

	up, err = c.UpgradePath("aaaa00000001", "head")
	if err != nil {
		t.Fatalf("UpgradePath: %v", err)
	}
	if want := []string{"bbbb00000002"}; !reflect.DeepEqual(ids(up), want) {
		t.Errorf("partial upgrade path = %v, want %v", ids(up), want)
	}

	down, err := c.DowngradePath("head", "base")
	if err != nil {
		t.Fatalf("DowngradePath: %v", err)
	}
	if want := []string{"bbbb00000002", "aaaa00000001"}; !reflect.DeepEqual(ids(down), want) {
		t.Errorf("downgrade path = %v, want %v", ids(down), want)
	}

	none, err := c.UpgradePath("head", "head")
	if err != nil {
		t.Fatalf("UpgradePath head->head: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty path, got %v", ids(none))
	}

	if _, err := c.UpgradePath("head", "base"); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("expected ErrWrongDirection for upgrade to base, got %v", err)
	}
	if _, err := c.DowngradePath("base", "head"); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("expected ErrWrongDirection for downgrade to head, got %v", err)
	}
}

func TestChain_CatalogAt(t *testing.T) {
	c := newFixtureChain(t)

	cat, err := c.CatalogAt("aaaa00000001")
	if err != nil {
		t.Fatalf("CatalogAt: %v", err)
	}
	if got, want := cat.TableNames(), []string{"groups", "members"}; !reflect.DeepEqual(got, want) {
		t.Errorf("tables at first revision = %v, want %v", got, want)
	}

	groups, ok := cat.Table("groups")
	if !ok {
		t.Fatal("groups missing")
	}
	if len(groups.ForeignKeys) != 1 || groups.ForeignKeys[0].Name != "groups_owner_id_fkey" {
		t.Errorf("expected deferred owner foreign key on groups, got %+v", groups.ForeignKeys)
	}

	cat, err = c.CatalogAt("head")
	if err != nil {
		t.Fatalf("CatalogAt head: %v", err)
	}
	if _, ok := cat.Table("posts"); !ok {
		t.Error("posts missing at head")
	}
}

func TestChain_Verify(t *testing.T) {
	if err := newFixtureChain(t).Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestNewRevisionID(t *testing.T) {
	a, b := NewRevisionID(), NewRevisionID()
	if len(a) != 12 {
		t.Errorf("expected 12 characters, got %q", a)
	}
	if a == b {
		t.Errorf("expected distinct ids, got %q twice", a)
	}
}
