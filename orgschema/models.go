package orgschema

import "time"

// Department is a row of the departments table.
type Department struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"not null;uniqueIndex:ix_departments_name"`
	HeadEmployeeID *uint
}

func (Department) TableName() string { return TableDepartments }

// Employee is a row of the employees table. Employees are humans or agents;
// OpenclawSessionKey binds an agent to its gateway session.
type Employee struct {
	ID                 uint   `gorm:"primaryKey"`
	Name               string `gorm:"not null"`
	EmployeeType       string `gorm:"not null"`
	DepartmentID       *uint
	TeamID             *uint `gorm:"index:ix_employees_team_id"`
	ManagerID          *uint
	Title              *string
	Status             string `gorm:"not null"`
	OpenclawSessionKey *string
	NotifyEnabled      bool `gorm:"not null"`
}

func (Employee) TableName() string { return TableEmployees }

// Team is a row of the teams table.
type Team struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"not null;index:ix_teams_name"`
	DepartmentID   uint   `gorm:"not null;index:ix_teams_department_id"`
	LeadEmployeeID *uint

	Department *Department `gorm:"foreignKey:DepartmentID"`
}

func (Team) TableName() string { return TableTeams }

// Project is a row of the projects table.
type Project struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string `gorm:"not null;uniqueIndex:ix_projects_name"`
	Status string `gorm:"not null"`
	TeamID *uint  `gorm:"index:ix_projects_team_id"`
}

func (Project) TableName() string { return TableProjects }

// ProjectMember assigns an employee to a project.
type ProjectMember struct {
	ID         uint `gorm:"primaryKey"`
	ProjectID  uint `gorm:"not null"`
	EmployeeID uint `gorm:"not null"`
	Role       *string
}

func (ProjectMember) TableName() string { return TableProjectMembers }

// Task is a row of the tasks table.
type Task struct {
	ID                  uint   `gorm:"primaryKey"`
	ProjectID           uint   `gorm:"not null;index:ix_tasks_project_id"`
	Title               string `gorm:"not null"`
	Description         *string
	Status              string `gorm:"not null;index:ix_tasks_status"`
	AssigneeEmployeeID  *uint
	ReviewerEmployeeID  *uint
	CreatedByEmployeeID *uint
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`

	Project *Project `gorm:"foreignKey:ProjectID"`
}

func (Task) TableName() string { return TableTasks }

// TaskComment is a row of the task_comments table. Replies point at the
// comment they answer.
type TaskComment struct {
	ID               uint `gorm:"primaryKey"`
	TaskID           uint `gorm:"not null;index:ix_task_comments_task_id"`
	AuthorEmployeeID *uint
	ReplyToCommentID *uint
	Body             string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`

	Task *Task `gorm:"foreignKey:TaskID"`
}

func (TaskComment) TableName() string { return TableTaskComments }

// Activity is an append-only audit entry. EntityType names the table
// EntityID belongs to.
type Activity struct {
	ID              uint `gorm:"primaryKey"`
	ActorEmployeeID *uint
	EntityType      string `gorm:"not null"`
	EntityID        *uint
	Verb            string    `gorm:"not null"`
	PayloadJSON     *string   `gorm:"column:payload_json"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Activity) TableName() string { return TableActivities }

// Models returns one zero value of every row model.
func Models() []any {
	return []any{
		&Department{},
		&Employee{},
		&Team{},
		&Project{},
		&ProjectMember{},
		&Task{},
		&TaskComment{},
		&Activity{},
	}
}
