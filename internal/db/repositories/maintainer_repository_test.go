package repositories

import (
	"context"
	"errors"
	"reflect"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newMaintainerRepos(t *testing.T) (private, public *MaintainerRepository, mock sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	x := sqlx.NewDb(db, "sqlmock")
	return NewPrivateMaintainerRepository(x), NewPublicMaintainerRepository(x), mock
}

// ---------------------------------------------------------------------------
// Table binding
// ---------------------------------------------------------------------------

func TestMaintainerRepository_TablesAreDisjoint(t *testing.T) {
	private, public, mock := newMaintainerRepos(t)
	mock.ExpectQuery("SELECT username FROM module_maintainer WHERE name").
		WithArgs("@s/a").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice"))
	mock.ExpectQuery("SELECT username FROM npm_module_maintainer WHERE name").
		WithArgs("lodash").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("jdalton"))

	got, err := private.ListMaintainers(context.Background(), "@s/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("private = %v", got)
	}

	got, err = public.ListMaintainers(context.Background(), "lodash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"jdalton"}) {
		t.Errorf("public = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Add / Remove
// ---------------------------------------------------------------------------

func TestAddMaintainers_Bulk(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	mock.ExpectExec("INSERT INTO module_maintainer.*unnest").
		WithArgs("@s/a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := private.AddMaintainers(context.Background(), "@s/a", []string{"alice", "bob"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddMaintainers_EmptyIsNoop(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	if err := private.AddMaintainers(context.Background(), "@s/a", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRemoveAllMaintainers(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	mock.ExpectExec("DELETE FROM module_maintainer WHERE name").
		WithArgs("@s/a").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := private.RemoveAllMaintainers(context.Background(), "@s/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// UpdateMaintainers
// ---------------------------------------------------------------------------

func TestUpdateMaintainers_AddsAndRemoves(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT username FROM module_maintainer.*FOR UPDATE").
		WithArgs("@s/a").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice").AddRow("bob"))
	mock.ExpectExec("INSERT INTO module_maintainer").
		WithArgs("@s/a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM module_maintainer WHERE name = \\$1 AND username = ANY").
		WithArgs("@s/a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	update, err := private.UpdateMaintainers(context.Background(), "@s/a", []string{"bob", "carol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(update.Add, []string{"carol"}) {
		t.Errorf("Add = %v, want [carol]", update.Add)
	}
	if !reflect.DeepEqual(update.Remove, []string{"alice"}) {
		t.Errorf("Remove = %v, want [alice]", update.Remove)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateMaintainers_NoChange(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT username FROM module_maintainer").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("alice"))
	mock.ExpectCommit()

	update, err := private.UpdateMaintainers(context.Background(), "@s/a", []string{"alice", "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Changed() {
		t.Errorf("expected no change, got %+v", update)
	}
}

func TestUpdateMaintainers_BeginError(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	mock.ExpectBegin().WillReturnError(errDB)

	if _, err := private.UpdateMaintainers(context.Background(), "@s/a", []string{"x"}); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
}

func TestUpdateMaintainers_RollbackOnInsertError(t *testing.T) {
	private, _, mock := newMaintainerRepos(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT username FROM module_maintainer").
		WillReturnRows(sqlmock.NewRows([]string{"username"}))
	mock.ExpectExec("INSERT INTO module_maintainer").WillReturnError(errDB)
	mock.ExpectRollback()

	if _, err := private.UpdateMaintainers(context.Background(), "@s/a", []string{"x"}); !errors.Is(err, errDB) {
		t.Errorf("err = %v, want wrapped errDB", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDiffMaintainers(t *testing.T) {
	tests := []struct {
		name       string
		current    []string
		want       []string
		add, remov []string
	}{
		{"empty to set", nil, []string{"a", "b"}, []string{"a", "b"}, []string{}},
		{"set to empty", []string{"a"}, nil, []string{}, []string{"a"}},
		{"duplicates in want", []string{"a"}, []string{"b", "b", "a"}, []string{"b"}, []string{}},
		{"same", []string{"a", "b"}, []string{"b", "a"}, []string{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffMaintainers(tt.current, tt.want)
			if !reflect.DeepEqual(got.Add, tt.add) || !reflect.DeepEqual(got.Remove, tt.remov) {
				t.Errorf("diff = %+v, want add=%v remove=%v", got, tt.add, tt.remov)
			}
		})
	}
}
