package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrationsFromFS_SortsPairs(t *testing.T) {
	t.Parallel()

	fsys := migrationFS(map[string]string{
		"0010_stock.up.sql":     "ALTER TABLE product_sizes ADD COLUMN note TEXT;",
		"0010_stock.down.sql":   "ALTER TABLE product_sizes DROP COLUMN note;",
		"0002_orders.up.sql":    "CREATE TABLE orders (id TEXT);",
		"0002_orders.down.sql":  "DROP TABLE orders;",
		"0001_catalog.up.sql":   "CREATE TABLE products (id TEXT);",
		"0001_catalog.down.sql": "DROP TABLE products;",
	})
	fsys["sql/migrations/README.md"] = &fstest.MapFile{Data: []byte("ignored")}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, []string{"0001_catalog", "0002_orders", "0010_stock"},
		[]string{migrations[0].label(), migrations[1].label(), migrations[2].label()})
	assert.Equal(t, "DROP TABLE orders;", migrations[1].DownSQL)
}

func TestLoadMigrationsFromFS_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "missing down",
			files:   map[string]string{"0001_init.up.sql": "CREATE TABLE a (id INT);"},
			wantErr: "both up and down",
		},
		{
			name:    "invalid file name",
			files:   map[string]string{"not_a_migration.sql": "SELECT 1;"},
			wantErr: "invalid migration file name",
		},
		{
			name: "empty body",
			files: map[string]string{
				"0001_init.up.sql":   "   \n",
				"0001_init.down.sql": "DROP TABLE a;",
			},
			wantErr: "migration file is empty",
		},
		{
			name: "name mismatch",
			files: map[string]string{
				"0001_init.up.sql":    "CREATE TABLE a (id INT);",
				"0001_renamed.up.sql": "CREATE TABLE b (id INT);",
			},
			wantErr: "name mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(migrationFS(tt.files))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMigrationsFromFS_NoFiles(t *testing.T) {
	t.Parallel()

	_, err := loadMigrationsFromFS(fstest.MapFS{})
	require.Error(t, err)
}

func TestLoadMigrationsFromFS_Embedded(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(embeddedMigrations)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "0001_init", migrations[0].label())
	assert.Equal(t, "0002_idempotency_keys", migrations[1].label())
}

func TestParseMigrationName(t *testing.T) {
	t.Parallel()

	file, err := parseMigrationName("0007_add_stock_index.down.sql")
	require.NoError(t, err)
	assert.Equal(t, int64(7), file.version)
	assert.Equal(t, "add_stock_index", file.name)
	assert.Equal(t, migrationDown, file.direction)

	_, err = parseMigrationName("0007_add-stock.up.sql")
	assert.Error(t, err)
}

func testMigrations() []migration {
	return []migration{
		{Version: 1, Name: "init", UpSQL: "u1", DownSQL: "d1"},
		{Version: 2, Name: "idempotency_keys", UpSQL: "u2", DownSQL: "d2"},
		{Version: 3, Name: "stock_audit", UpSQL: "u3", DownSQL: "d3"},
	}
}

func versionsOf(plan []migration) []int64 {
	out := make([]int64, 0, len(plan))
	for _, m := range plan {
		out = append(out, m.Version)
	}
	return out
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	known := testMigrations()

	tests := []struct {
		name      string
		applied   []int64
		direction migrationDirection
		steps     int
		want      []int64
	}{
		{name: "up all from empty", direction: migrationUp, want: []int64{1, 2, 3}},
		{name: "up one step", direction: migrationUp, steps: 1, want: []int64{1}},
		{name: "up fills gap", applied: []int64{1, 3}, direction: migrationUp, want: []int64{2}},
		{name: "up nothing pending", applied: []int64{1, 2, 3}, direction: migrationUp, want: []int64{}},
		{name: "down latest first", applied: []int64{1, 2, 3}, direction: migrationDown, steps: 2, want: []int64{3, 2}},
		{name: "down more than applied", applied: []int64{1}, direction: migrationDown, steps: 5, want: []int64{1}},
		{name: "down on empty", direction: migrationDown, steps: 1, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan, err := planMigrations(known, tt.applied, tt.direction, tt.steps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, versionsOf(plan))
		})
	}
}

func TestPlanMigrations_UnknownAppliedVersion(t *testing.T) {
	t.Parallel()

	_, err := planMigrations(testMigrations(), []int64{1, 9}, migrationDown, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown migration version 9")
}

func TestBuildMigrationState(t *testing.T) {
	t.Parallel()

	state := buildMigrationState(testMigrations(), []int64{1, 3})
	assert.Equal(t, int64(3), state.Version)
	assert.Equal(t, 2, state.Applied)
	assert.Equal(t, []string{"0002_idempotency_keys"}, state.Pending)

	empty := buildMigrationState(testMigrations(), nil)
	assert.Zero(t, empty.Version)
	assert.Len(t, empty.Pending, 3)
}

func TestMigrationSQL(t *testing.T) {
	t.Parallel()

	m := migration{Version: 4, Name: "x", UpSQL: "CREATE", DownSQL: "DROP"}

	body, bookkeeping, args := m.sql(migrationUp)
	assert.Equal(t, "CREATE", body)
	assert.Contains(t, bookkeeping, "INSERT INTO schema_migrations")
	assert.Equal(t, []any{int64(4), "x"}, args)

	body, bookkeeping, args = m.sql(migrationDown)
	assert.Equal(t, "DROP", body)
	assert.Contains(t, bookkeeping, "DELETE FROM schema_migrations")
	assert.Equal(t, []any{int64(4)}, args)
}
