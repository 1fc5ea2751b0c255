package orgschema

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/GoCodeAlone/missioncontrol/migration"
	"github.com/GoCodeAlone/missioncontrol/store"
)

func TestBaseline_Identity(t *testing.T) {
	rev := Baseline()
	if rev.ID != "0a1b2c3d4e5f" {
		t.Errorf("id = %s", rev.ID)
	}
	if !rev.IsRoot() {
		t.Errorf("baseline must not have a predecessor, got %q", rev.DownRevision)
	}
	if rev.Message != "Baseline schema (squashed)" {
		t.Errorf("message = %q", rev.Message)
	}
	if got := rev.CreatedAt.Format("2006-01-02"); got != "2026-02-02" {
		t.Errorf("created = %s", got)
	}
}

func TestBaseline_UpgradeCreatesEveryTable(t *testing.T) {
	chain, err := Chain()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if err := chain.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	cat, err := chain.CatalogAt(migration.Head)
	if err != nil {
		t.Fatalf("CatalogAt: %v", err)
	}
	want := []string{
		TableActivities, TableDepartments, TableEmployees, TableProjectMembers,
		TableProjects, TableTaskComments, TableTasks, TableTeams,
	}
	if got := cat.TableNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("tables = %v, want %v", got, want)
	}

	wantIndexes := []string{
		"ix_departments_name", "ix_employees_team_id", "ix_projects_name", "ix_projects_team_id",
		"ix_task_comments_task_id", "ix_tasks_project_id", "ix_tasks_status", "ix_teams_department_id", "ix_teams_name",
	}
	if got := cat.IndexNames(); !reflect.DeepEqual(got, wantIndexes) {
		t.Errorf("indexes = %v, want %v", got, wantIndexes)
	}
	for _, name := range []string{"ix_departments_name", "ix_projects_name"} {
		if idx, _ := cat.Index(name); !idx.Unique {
			t.Errorf("%s should be unique", name)
		}
	}
}

func TestBaseline_DowngradeRestoresEmptySchema(t *testing.T) {
	upgraded, err := migration.VerifyRevision(migration.NewCatalog(), Baseline())
	if err != nil {
		t.Fatalf("VerifyRevision: %v", err)
	}
	if upgraded.Empty() {
		t.Fatal("upgrade created nothing")
	}

	reverted := upgraded.Clone()
	if err := reverted.ApplyRevision(Baseline(), migration.Down); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if !reverted.Empty() {
		t.Errorf("expected empty schema, got %v / %v", reverted.TableNames(), reverted.IndexNames())
	}
}

func TestBaseline_StepOrder(t *testing.T) {
	var names []string
	for _, s := range Baseline().Upgrade {
		names = append(names, s.Name)
	}
	want := []string{
		"create departments",
		"create employees",
		"link departments.head_employee_id",
		"create teams",
		"link employees.team_id",
		"create projects",
		"create activities",
		"create project_members",
		"create tasks",
		"create task_comments",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("upgrade steps = %v, want %v", names, want)
	}
}

func TestBaseline_EmployeesDropNeedsHeadUnlinked(t *testing.T) {
	cat := migration.NewCatalog()
	if err := cat.ApplyRevision(Baseline(), migration.Up); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	var err error
	for _, step := range Baseline().Downgrade {
		if step.Name == "unlink departments.head_employee_id" {
			continue
		}
		for _, op := range step.Ops {
			if err = cat.Apply(op); err != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	if !errors.Is(err, migration.ErrCatalogConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "departments."+FKDepartmentHead) {
		t.Errorf("expected the department head constraint to block the drop, got %v", err)
	}
}

func TestBaseline_DeferredConstraints(t *testing.T) {
	cat, err := migration.NewChain(Baseline())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	head, err := cat.CatalogAt(migration.Head)
	if err != nil {
		t.Fatalf("CatalogAt: %v", err)
	}

	tests := []struct {
		table, name, ref string
		onDelete         migration.ReferentialAction
	}{
		{TableDepartments, FKDepartmentHead, TableEmployees, migration.NoAction},
		{TableEmployees, FKEmployeeTeam, TableTeams, migration.SetNull},
		{TableProjects, FKProjectTeam, TableTeams, migration.SetNull},
		{TableTeams, "teams_department_id_fkey", TableDepartments, migration.Cascade},
		{TableTeams, "teams_lead_employee_id_fkey", TableEmployees, migration.SetNull},
	}
	for _, tt := range tests {
		table, _ := head.Table(tt.table)
		var found bool
		for _, fk := range table.ForeignKeys {
			if fk.Name != tt.name {
				continue
			}
			found = true
			if fk.RefTable != tt.ref || fk.OnDelete != tt.onDelete {
				t.Errorf("%s: references %s on delete %q, want %s on delete %q", tt.name, fk.RefTable, fk.OnDelete, tt.ref, tt.onDelete)
			}
		}
		if !found {
			t.Errorf("%s.%s missing", tt.table, tt.name)
		}
	}

	activities, _ := head.Table(TableActivities)
	for _, fk := range activities.ForeignKeys {
		for _, col := range fk.Columns {
			if col == "entity_id" {
				t.Errorf("activities.entity_id must not have a foreign key, found %s", fk.Name)
			}
		}
	}
}

func TestBaseline_PostgresSQL(t *testing.T) {
	stmts, err := migration.RenderRevision(migration.Postgres{}, Baseline(), migration.Up)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	all := strings.Join(stmts, ";\n")
	for _, want := range []string{
		"ALTER TABLE departments ADD CONSTRAINT departments_head_employee_id_fkey FOREIGN KEY(head_employee_id) REFERENCES employees (id)",
		"ALTER TABLE employees ADD CONSTRAINT fk_employees_team_id_teams FOREIGN KEY(team_id) REFERENCES teams (id) ON DELETE SET NULL",
		"CONSTRAINT uq_teams_department_id_name UNIQUE (department_id, name)",
		"CREATE UNIQUE INDEX ix_projects_name ON projects (name)",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("upgrade SQL missing %q", want)
		}
	}

	down, err := migration.RenderRevision(migration.Postgres{}, Baseline(), migration.Down)
	if err != nil {
		t.Fatalf("render down: %v", err)
	}
	pos := func(stmt string) int {
		for i, s := range down {
			if s == stmt {
				return i
			}
		}
		t.Fatalf("downgrade missing %q", stmt)
		return -1
	}
	if pos("ALTER TABLE departments DROP CONSTRAINT departments_head_employee_id_fkey") > pos("DROP TABLE employees") {
		t.Error("department head constraint must be dropped before employees")
	}
	if pos("ALTER TABLE employees DROP CONSTRAINT fk_employees_team_id_teams") > pos("DROP TABLE teams") {
		t.Error("employee team constraint must be dropped before teams")
	}
	if down[len(down)-1] != "DROP TABLE departments" {
		t.Errorf("last downgrade statement = %q", down[len(down)-1])
	}
}

func newRunner(t *testing.T, db *store.DB, d migration.Dialect) *migration.Runner {
	t.Helper()
	chain, err := Chain()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	versions, err := migration.NewSQLVersionStore(d, "")
	if err != nil {
		t.Fatalf("version store: %v", err)
	}
	return migration.NewRunner(db.DB, d, chain, versions, migration.NewSQLiteLock(nil), nil)
}

func openUpgraded(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.Config{Driver: "sqlite", URL: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := newRunner(t, db, migration.SQLite{}).Upgrade(context.Background(), migration.Head); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	return db
}

func countTables(t *testing.T, db *store.DB) int {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'index') AND name NOT LIKE 'sqlite_%' AND name <> 'schema_version'`).Scan(&n)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestBaseline_SQLiteUpgradeDowngrade(t *testing.T) {
	db := openUpgraded(t)
	ctx := context.Background()

	if n := countTables(t, db); n == 0 {
		t.Fatal("expected tables after upgrade")
	}

	runner := newRunner(t, db, migration.SQLite{})
	current, err := runner.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != BaselineID {
		t.Errorf("current = %q", current)
	}

	if err := runner.Downgrade(ctx, migration.Base); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if n := countTables(t, db); n != 0 {
		t.Errorf("expected no tables or indexes after downgrade, got %d", n)
	}

	if err := runner.Upgrade(ctx, migration.Head); err != nil {
		t.Fatalf("re-upgrade: %v", err)
	}
}

func TestBaseline_PostgresUpgradeDowngrade(t *testing.T) {
	url := os.Getenv("MCCTL_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("MCCTL_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	db, err := store.Open(ctx, store.Config{Driver: "postgres", URL: url})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	runner := newRunner(t, db, migration.Postgres{})
	if err := runner.Upgrade(ctx, migration.Head); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	t.Cleanup(func() {
		_ = runner.Downgrade(context.Background(), migration.Base)
	})

	if _, err := db.ExecContext(ctx, `INSERT INTO departments (name) VALUES ('pg-ops')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO departments (name) VALUES ('pg-ops')`)
	if !errors.Is(store.Classify(err), store.ErrUniqueViolation) {
		t.Errorf("expected unique violation, got %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM departments`); err != nil {
		t.Fatalf("cleanup rows: %v", err)
	}

	if err := runner.Downgrade(ctx, migration.Base); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		[]string{TableDepartments, TableEmployees, TableTeams, TableProjects, TableTasks}).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no org tables after downgrade, got %d", n)
	}
}
