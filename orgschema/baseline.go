// Package orgschema holds the baseline relational schema of the
// organisational-management domain and the row models that read and write it.
package orgschema

import (
	"sync"
	"time"

	m "github.com/GoCodeAlone/missioncontrol/migration"
)

// BaselineID is the id of the squashed baseline revision.
const BaselineID = "0a1b2c3d4e5f"

// Table names.
const (
	TableDepartments    = "departments"
	TableEmployees      = "employees"
	TableTeams          = "teams"
	TableProjects       = "projects"
	TableActivities     = "activities"
	TableProjectMembers = "project_members"
	TableTasks          = "tasks"
	TableTaskComments   = "task_comments"
)

// Constraints that are added and dropped as separate operations.
const (
	FKDepartmentHead = "departments_head_employee_id_fkey"
	FKEmployeeTeam   = "fk_employees_team_id_teams"
	FKProjectTeam    = "fk_projects_team_id_teams"
)

func id() m.Column                { return m.Column{Name: "id", Type: m.Integer} }
func str(name string) m.Column    { return m.Column{Name: name, Type: m.String} }
func optStr(name string) m.Column { return m.Column{Name: name, Type: m.String, Nullable: true} }
func ref(name string) m.Column    { return m.Column{Name: name, Type: m.Integer} }
func optRef(name string) m.Column { return m.Column{Name: name, Type: m.Integer, Nullable: true} }
func ts(name string) m.Column     { return m.Column{Name: name, Type: m.DateTime} }

func fk(col, table string, onDelete m.ReferentialAction) m.ForeignKey {
	return m.ForeignKey{Columns: []string{col}, RefTable: table, RefColumns: []string{"id"}, OnDelete: onDelete}
}

func index(name, table string, unique bool, cols ...string) m.CreateIndex {
	return m.CreateIndex{Index: m.Index{Name: name, Table: table, Columns: cols, Unique: unique}}
}

func dropIndex(name, table string) m.DropIndex {
	return m.DropIndex{Name: name, Table: table}
}

var pk = []string{"id"}

// Baseline returns the squashed baseline revision. Departments and employees
// reference each other, so departments.head_employee_id is linked in its own
// step once employees exists. employees.team_id and projects.team_id are
// linked the same way after teams.
func Baseline() m.Revision {
	return m.Revision{
		ID:        BaselineID,
		Message:   "Baseline schema (squashed)",
		CreatedAt: time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC),
		Upgrade:   baselineUpgrade(),
		Downgrade: baselineDowngrade(),
	}
}

func baselineUpgrade() []m.Step {
	return []m.Step{
		{Name: "create departments", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name:       TableDepartments,
				Columns:    []m.Column{id(), str("name"), optRef("head_employee_id")},
				PrimaryKey: pk,
			}},
			index("ix_departments_name", TableDepartments, true, "name"),
		}},
		{Name: "create employees", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name: TableEmployees,
				Columns: []m.Column{
					id(),
					str("name"),
					str("employee_type"),
					optRef("department_id"),
					optRef("team_id"),
					optRef("manager_id"),
					optStr("title"),
					str("status"),
					optStr("openclaw_session_key"),
					{Name: "notify_enabled", Type: m.Boolean},
				},
				PrimaryKey: pk,
				ForeignKeys: []m.ForeignKey{
					fk("department_id", TableDepartments, m.NoAction),
					fk("manager_id", TableEmployees, m.NoAction),
				},
			}},
		}},
		{Name: "link departments.head_employee_id", Ops: []m.Op{
			m.AddForeignKey{Table: TableDepartments, ForeignKey: fk("head_employee_id", TableEmployees, m.NoAction)},
		}},
		{Name: "create teams", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name:       TableTeams,
				Columns:    []m.Column{id(), str("name"), ref("department_id"), optRef("lead_employee_id")},
				PrimaryKey: pk,
				ForeignKeys: []m.ForeignKey{
					fk("department_id", TableDepartments, m.Cascade),
					fk("lead_employee_id", TableEmployees, m.SetNull),
				},
				Uniques: []m.UniqueConstraint{
					{Name: "uq_teams_department_id_name", Columns: []string{"department_id", "name"}},
				},
			}},
			index("ix_teams_name", TableTeams, false, "name"),
			index("ix_teams_department_id", TableTeams, false, "department_id"),
		}},
		{Name: "link employees.team_id", Ops: []m.Op{
			index("ix_employees_team_id", TableEmployees, false, "team_id"),
			m.AddForeignKey{Table: TableEmployees, ForeignKey: withName(FKEmployeeTeam, fk("team_id", TableTeams, m.SetNull))},
		}},
		{Name: "create projects", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name:       TableProjects,
				Columns:    []m.Column{id(), str("name"), str("status"), optRef("team_id")},
				PrimaryKey: pk,
			}},
			index("ix_projects_name", TableProjects, true, "name"),
			index("ix_projects_team_id", TableProjects, false, "team_id"),
			m.AddForeignKey{Table: TableProjects, ForeignKey: withName(FKProjectTeam, fk("team_id", TableTeams, m.SetNull))},
		}},
		{Name: "create activities", Ops: []m.Op{
			// entity_id points at whichever table entity_type names, so it has
			// no foreign key.
			m.CreateTable{Table: m.Table{
				Name: TableActivities,
				Columns: []m.Column{
					id(),
					optRef("actor_employee_id"),
					str("entity_type"),
					optRef("entity_id"),
					str("verb"),
					optStr("payload_json"),
					ts("created_at"),
				},
				PrimaryKey:  pk,
				ForeignKeys: []m.ForeignKey{fk("actor_employee_id", TableEmployees, m.NoAction)},
			}},
		}},
		{Name: "create project_members", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name:       TableProjectMembers,
				Columns:    []m.Column{id(), ref("project_id"), ref("employee_id"), optStr("role")},
				PrimaryKey: pk,
				ForeignKeys: []m.ForeignKey{
					fk("employee_id", TableEmployees, m.NoAction),
					fk("project_id", TableProjects, m.NoAction),
				},
			}},
		}},
		{Name: "create tasks", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name: TableTasks,
				Columns: []m.Column{
					id(),
					ref("project_id"),
					str("title"),
					optStr("description"),
					str("status"),
					optRef("assignee_employee_id"),
					optRef("reviewer_employee_id"),
					optRef("created_by_employee_id"),
					ts("created_at"),
					ts("updated_at"),
				},
				PrimaryKey: pk,
				ForeignKeys: []m.ForeignKey{
					fk("assignee_employee_id", TableEmployees, m.NoAction),
					fk("created_by_employee_id", TableEmployees, m.NoAction),
					fk("project_id", TableProjects, m.NoAction),
					fk("reviewer_employee_id", TableEmployees, m.NoAction),
				},
			}},
			index("ix_tasks_project_id", TableTasks, false, "project_id"),
			index("ix_tasks_status", TableTasks, false, "status"),
		}},
		{Name: "create task_comments", Ops: []m.Op{
			m.CreateTable{Table: m.Table{
				Name: TableTaskComments,
				Columns: []m.Column{
					id(),
					ref("task_id"),
					optRef("author_employee_id"),
					optRef("reply_to_comment_id"),
					str("body"),
					ts("created_at"),
				},
				PrimaryKey: pk,
				ForeignKeys: []m.ForeignKey{
					fk("author_employee_id", TableEmployees, m.NoAction),
					fk("reply_to_comment_id", TableTaskComments, m.NoAction),
					fk("task_id", TableTasks, m.NoAction),
				},
			}},
			index("ix_task_comments_task_id", TableTaskComments, false, "task_id"),
		}},
	}
}

func baselineDowngrade() []m.Step {
	return []m.Step{
		{Name: "drop task_comments", Ops: []m.Op{
			dropIndex("ix_task_comments_task_id", TableTaskComments),
			m.DropTable{Name: TableTaskComments},
		}},
		{Name: "drop tasks", Ops: []m.Op{
			dropIndex("ix_tasks_status", TableTasks),
			dropIndex("ix_tasks_project_id", TableTasks),
			m.DropTable{Name: TableTasks},
		}},
		{Name: "drop project_members", Ops: []m.Op{m.DropTable{Name: TableProjectMembers}}},
		{Name: "drop activities", Ops: []m.Op{m.DropTable{Name: TableActivities}}},
		{Name: "drop projects", Ops: []m.Op{
			m.DropForeignKey{Table: TableProjects, Name: FKProjectTeam},
			dropIndex("ix_projects_team_id", TableProjects),
			dropIndex("ix_projects_name", TableProjects),
			m.DropTable{Name: TableProjects},
		}},
		{Name: "unlink employees.team_id", Ops: []m.Op{
			m.DropForeignKey{Table: TableEmployees, Name: FKEmployeeTeam},
			dropIndex("ix_employees_team_id", TableEmployees),
		}},
		{Name: "drop teams", Ops: []m.Op{
			dropIndex("ix_teams_department_id", TableTeams),
			dropIndex("ix_teams_name", TableTeams),
			m.DropTable{Name: TableTeams},
		}},
		{Name: "unlink departments.head_employee_id", Ops: []m.Op{
			m.DropForeignKey{Table: TableDepartments, Name: FKDepartmentHead},
		}},
		{Name: "drop employees", Ops: []m.Op{m.DropTable{Name: TableEmployees}}},
		{Name: "drop departments", Ops: []m.Op{
			dropIndex("ix_departments_name", TableDepartments),
			m.DropTable{Name: TableDepartments},
		}},
	}
}

func withName(name string, f m.ForeignKey) m.ForeignKey {
	f.Name = name
	return f
}

var (
	chainOnce sync.Once
	chain     *m.Chain
	chainErr  error
)

// Chain returns the validated revision chain of the org schema.
func Chain() (*m.Chain, error) {
	chainOnce.Do(func() {
		chain, chainErr = m.NewChain(Baseline())
	})
	return chain, chainErr
}
