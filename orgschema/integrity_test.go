package orgschema

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/GoCodeAlone/missioncontrol/store"
)

func insert(t *testing.T, db *store.DB, query string, args ...any) int64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("last insert id: %v", err)
	}
	return id
}

func execErr(db *store.DB, query string, args ...any) error {
	_, err := db.ExecContext(context.Background(), query, args...)
	return store.Classify(err)
}

const insertEmployee = `INSERT INTO employees (name, employee_type, status, notify_enabled, department_id, team_id)
	VALUES (?, 'agent', 'active', 1, ?, ?)`

func TestIntegrity_Uniqueness(t *testing.T) {
	db := openUpgraded(t)

	eng := insert(t, db, `INSERT INTO departments (name) VALUES ('engineering')`)
	ops := insert(t, db, `INSERT INTO departments (name) VALUES ('operations')`)

	if err := execErr(db, `INSERT INTO departments (name) VALUES ('engineering')`); !errors.Is(err, store.ErrUniqueViolation) {
		t.Errorf("duplicate department name: got %v", err)
	}

	insert(t, db, `INSERT INTO teams (name, department_id) VALUES ('platform', ?)`, eng)
	if err := execErr(db, `INSERT INTO teams (name, department_id) VALUES ('platform', ?)`, eng); !errors.Is(err, store.ErrUniqueViolation) {
		t.Errorf("duplicate team in department: got %v", err)
	}
	// The same team name is allowed in another department.
	insert(t, db, `INSERT INTO teams (name, department_id) VALUES ('platform', ?)`, ops)

	insert(t, db, `INSERT INTO projects (name, status) VALUES ('apollo', 'active')`)
	if err := execErr(db, `INSERT INTO projects (name, status) VALUES ('apollo', 'paused')`); !errors.Is(err, store.ErrUniqueViolation) {
		t.Errorf("duplicate project name: got %v", err)
	}
}

func TestIntegrity_DeleteDepartmentCascadesToTeams(t *testing.T) {
	db := openUpgraded(t)
	ctx := context.Background()

	dept := insert(t, db, `INSERT INTO departments (name) VALUES ('research')`)
	insert(t, db, `INSERT INTO teams (name, department_id) VALUES ('lab', ?)`, dept)
	insert(t, db, `INSERT INTO teams (name, department_id) VALUES ('field', ?)`, dept)

	if _, err := db.ExecContext(ctx, `DELETE FROM departments WHERE id = ?`, dept); err != nil {
		t.Fatalf("delete department: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM teams`).Scan(&n); err != nil {
		t.Fatalf("count teams: %v", err)
	}
	if n != 0 {
		t.Errorf("expected teams removed with their department, %d left", n)
	}
}

func TestIntegrity_DeleteTeamClearsReferences(t *testing.T) {
	db := openUpgraded(t)
	ctx := context.Background()

	dept := insert(t, db, `INSERT INTO departments (name) VALUES ('support')`)
	team := insert(t, db, `INSERT INTO teams (name, department_id) VALUES ('tier1', ?)`, dept)
	emp := insert(t, db, insertEmployee, "ada", dept, team)
	proj := insert(t, db, `INSERT INTO projects (name, status, team_id) VALUES ('helpdesk', 'active', ?)`, team)
	if _, err := db.ExecContext(ctx, `UPDATE teams SET lead_employee_id = ? WHERE id = ?`, emp, team); err != nil {
		t.Fatalf("set lead: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, team); err != nil {
		t.Fatalf("delete team: %v", err)
	}

	var empTeam, projTeam sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT team_id FROM employees WHERE id = ?`, emp).Scan(&empTeam); err != nil {
		t.Fatalf("employee: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT team_id FROM projects WHERE id = ?`, proj).Scan(&projTeam); err != nil {
		t.Fatalf("project: %v", err)
	}
	if empTeam.Valid || projTeam.Valid {
		t.Errorf("expected team references cleared, employee=%v project=%v", empTeam, projTeam)
	}
}

func TestIntegrity_DeleteLeadClearsTeamLead(t *testing.T) {
	db := openUpgraded(t)
	ctx := context.Background()

	dept := insert(t, db, `INSERT INTO departments (name) VALUES ('design')`)
	emp := insert(t, db, insertEmployee, "grace", nil, nil)
	team := insert(t, db, `INSERT INTO teams (name, department_id, lead_employee_id) VALUES ('ux', ?, ?)`, dept, emp)

	if _, err := db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, emp); err != nil {
		t.Fatalf("delete employee: %v", err)
	}
	var lead sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT lead_employee_id FROM teams WHERE id = ?`, team).Scan(&lead); err != nil {
		t.Fatalf("team: %v", err)
	}
	if lead.Valid {
		t.Errorf("expected lead cleared, got %d", lead.Int64)
	}
}

func TestIntegrity_ForeignKeysRejectDanglingRows(t *testing.T) {
	db := openUpgraded(t)

	tests := []struct {
		name  string
		query string
	}{
		{"team without department", `INSERT INTO teams (name, department_id) VALUES ('ghost', 999)`},
		{"task without project", `INSERT INTO tasks (project_id, title, status, created_at, updated_at) VALUES (999, 't', 'todo', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`},
		{"department head missing", `INSERT INTO departments (name, head_employee_id) VALUES ('x', 999)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := execErr(db, tt.query); !errors.Is(err, store.ErrForeignKeyViolation) {
				t.Errorf("got %v, want foreign key violation", err)
			}
		})
	}

	// entity_id is a loose reference.
	insert(t, db, `INSERT INTO activities (entity_type, entity_id, verb, created_at) VALUES ('task', 999, 'created', CURRENT_TIMESTAMP)`)
}

func TestIntegrity_RequiredColumns(t *testing.T) {
	db := openUpgraded(t)
	if err := execErr(db, `INSERT INTO projects (name) VALUES ('nostatus')`); !errors.Is(err, store.ErrNotNullViolation) {
		t.Errorf("got %v, want not null violation", err)
	}
}
