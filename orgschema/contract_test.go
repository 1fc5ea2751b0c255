package orgschema

import (
	"strings"
	"testing"

	"github.com/GoCodeAlone/missioncontrol/migration"
)

func headCatalog(t *testing.T) *migration.Catalog {
	t.Helper()
	chain, err := Chain()
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	cat, err := chain.CatalogAt(migration.Head)
	if err != nil {
		t.Fatalf("CatalogAt: %v", err)
	}
	return cat
}

func TestCheckModels_AgreeWithBaseline(t *testing.T) {
	mismatches, err := CheckModels(headCatalog(t))
	if err != nil {
		t.Fatalf("CheckModels: %v", err)
	}
	for _, m := range mismatches {
		t.Errorf("mismatch: %s", m)
	}
}

type driftedProject struct {
	ID       uint   `gorm:"primaryKey"`
	Name     string `gorm:"index:ix_projects_name"`
	Status   *string
	Archived bool
}

func (driftedProject) TableName() string { return TableProjects }

type unknownTable struct {
	ID uint `gorm:"primaryKey"`
}

func (unknownTable) TableName() string { return "milestones" }

func TestCheckModels_ReportsDrift(t *testing.T) {
	mismatches, err := CheckModels(headCatalog(t), &driftedProject{}, &unknownTable{})
	if err != nil {
		t.Fatalf("CheckModels: %v", err)
	}

	var got []string
	for _, m := range mismatches {
		got = append(got, m.String())
	}
	all := strings.Join(got, "\n")

	for _, want := range []string{
		"projects.status: field Status is a pointer but the column is NOT NULL",
		"projects.archived: field Archived has no column",
		"projects.team_id: column not mapped by driftedProject",
		"projects.name: index ix_projects_name uniqueness is true, model says false",
		"milestones: table missing from schema",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("missing %q in:\n%s", want, all)
		}
	}
}
