package plugins

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLSource(t *testing.T) (*SQLSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	src, err := NewSQLSource(db, testLogger())
	require.NoError(t, err)
	return src, mock
}

func TestNewSQLSource_NilDB(t *testing.T) {
	_, err := NewSQLSource(nil, nil)
	assert.Error(t, err)
}

func TestSQLSource_EnsureSchema(t *testing.T) {
	src, mock := newMockSQLSource(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS plugin_descriptors").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, src.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_Discover(t *testing.T) {
	src, mock := newMockSQLSource(t)

	rows := sqlmock.NewRows([]string{"id", "manifest"}).
		AddRow("com.example.a", "id: com.example.a\nversion: 1.0.0\ncapabilities: [store.inventory]\n").
		AddRow("com.example.b", "version: 2.0.0\n").
		AddRow("com.example.c", "id: [broken").
		AddRow("com.example.d", "id: com.example.other\nversion: 1.0.0\n")
	mock.ExpectQuery("SELECT id, manifest FROM plugin_descriptors WHERE enabled").
		WithArgs(true).
		WillReturnRows(rows)

	manifests, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, manifests, 4)

	assert.Equal(t, "com.example.a", manifests[0].ID)
	assert.Equal(t, []string{"store.inventory"}, manifests[0].Capabilities)
	assert.Equal(t, "sql:plugin_descriptors/com.example.a", manifests[0].Source)
	// the row id fills a missing manifest id
	assert.Equal(t, "com.example.b", manifests[1].ID)
	assert.Error(t, manifests[2].ReadErr)
	assert.Error(t, manifests[3].ReadErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_Discover_QueryError(t *testing.T) {
	src, mock := newMockSQLSource(t)

	mock.ExpectQuery("SELECT id, manifest FROM plugin_descriptors").WillReturnError(errors.New("connection reset"))

	_, err := src.Discover(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSQLSource_Read(t *testing.T) {
	src, mock := newMockSQLSource(t)

	mock.ExpectQuery("SELECT manifest FROM plugin_descriptors WHERE id").
		WithArgs("com.example.a", true).
		WillReturnRows(sqlmock.NewRows([]string{"manifest"}).AddRow("id: com.example.a\nversion: 1.2.0\n"))
	mock.ExpectQuery("SELECT manifest FROM plugin_descriptors WHERE id").
		WithArgs("com.example.missing", true).
		WillReturnError(sql.ErrNoRows)

	m, err := src.Read(context.Background(), "com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.Version)

	_, err = src.Read(context.Background(), "com.example.missing")
	assert.ErrorIs(t, err, ErrPluginNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_PutAndSetEnabled(t *testing.T) {
	src, mock := newMockSQLSource(t)

	mock.ExpectExec("INSERT INTO plugin_descriptors").
		WithArgs("com.example.a", sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE plugin_descriptors SET enabled").
		WithArgs(false, "com.example.a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE plugin_descriptors SET enabled").
		WithArgs(false, "com.example.none").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, src.Put(ctx, &Manifest{ID: "com.example.a", Version: "1.0.0"}))
	require.NoError(t, src.SetEnabled(ctx, "com.example.a", false))
	assert.ErrorIs(t, src.SetEnabled(ctx, "com.example.none", false), ErrPluginNotFound)
	assert.ErrorIs(t, src.Put(ctx, &Manifest{}), ErrMalformedDescriptor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	src, err := NewSQLSource(db, testLogger())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, src.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
