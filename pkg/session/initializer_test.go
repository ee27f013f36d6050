package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingIntrospector struct {
	calls  int
	schema *capability.WarehouseSchema
	err    error
}

func (c *countingIntrospector) Introspect(context.Context) (*capability.WarehouseSchema, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.schema, nil
}

func salesSchema() *capability.WarehouseSchema {
	return &capability.WarehouseSchema{
		Kind:    "sqlite",
		Dataset: "main",
		Tables: []capability.Table{
			{Name: "orders", Columns: []capability.Column{{Name: "id", Type: "INTEGER"}, {Name: "region", Type: "TEXT"}}},
			{Name: "customers", Columns: []capability.Column{{Name: "id", Type: "INTEGER"}}},
		},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestInitializeIsIdempotent(t *testing.T) {
	intro := &countingIntrospector{schema: salesSchema()}
	mgr := NewStateManager(intro, "sqlite", nil)
	st := NewState(nil)
	ctx := context.Background()

	require.NoError(t, mgr.Initialize(ctx, st))
	first := mustJSON(t, st.Snapshot())

	require.NoError(t, mgr.Initialize(ctx, st))
	assert.Equal(t, 1, intro.calls, "second initialization must not introspect")
	assert.Equal(t, first, mustJSON(t, st.Snapshot()))

	assert.Equal(t, "sqlite", WarehouseKind(st))
	info, ok := SchemaFromState(st)
	require.True(t, ok)
	assert.Equal(t, []string{"orders", "customers"}, info.Tables)
	assert.Contains(t, info.Text, "CREATE TABLE orders")
}

func TestInitializeFailureWritesNothing(t *testing.T) {
	intro := &countingIntrospector{err: errors.New("connection refused")}
	mgr := NewStateManager(intro, "postgres", nil)
	st := NewState(nil)
	ctx := context.Background()

	err := mgr.Initialize(ctx, st)
	require.Error(t, err)
	assert.ErrorIs(t, err, capability.ErrSchemaUnavailable)
	var sue *capability.SchemaUnavailableError
	require.ErrorAs(t, err, &sue)
	assert.Equal(t, "postgres", sue.Warehouse)
	assert.Empty(t, st.Keys())

	// Next turn retries and succeeds.
	intro.err = nil
	intro.schema = salesSchema()
	require.NoError(t, mgr.Initialize(ctx, st))
	assert.Equal(t, 2, intro.calls)
	assert.True(t, st.Has(capability.KeyAllDBSettings))
}

func TestInitializeWithoutWarehouse(t *testing.T) {
	mgr := NewStateManager(nil, "", nil)
	err := mgr.Initialize(context.Background(), NewState(nil))
	assert.ErrorIs(t, err, capability.ErrSchemaUnavailable)
}

func TestSchemaFromStateDecodedValues(t *testing.T) {
	st := NewState(map[string]any{
		capability.KeyDatabaseSettings: map[string]any{
			capability.SettingKind:   "postgres",
			capability.SettingTables: []any{"orders", "refunds"},
		},
	})
	info, ok := SchemaFromState(st)
	require.True(t, ok)
	assert.Equal(t, []string{"orders", "refunds"}, info.Tables)

	_, ok = SchemaFromState(NewState(nil))
	assert.False(t, ok)
}

func TestStateRequire(t *testing.T) {
	st := NewState(nil)
	_, err := st.Require(capability.KeyQueryResult)
	assert.ErrorIs(t, err, capability.ErrMissingState)

	st.Set(capability.KeyQueryResult, 42)
	v, err := st.Require(capability.KeyQueryResult)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	st.Set(capability.KeyQueryResult, 43)
	v, _ = st.Get(capability.KeyQueryResult)
	assert.Equal(t, 43, v)
}

func TestTrackerRecordsOrder(t *testing.T) {
	st := NewState(nil)
	tr := NewTracker(st)

	sql := tr.View(capability.SQL)
	analysis := tr.View(capability.Analysis)

	sql.Set(capability.KeyQueryResult, "rows")
	_, err := analysis.Require(capability.KeyQueryResult)
	require.NoError(t, err)
	_, err = analysis.Require("absent")
	var mse *capability.MissingStateError
	require.ErrorAs(t, err, &mse)
	assert.Equal(t, capability.Analysis, mse.Consumer)

	acc := tr.Accesses()
	require.Len(t, acc, 2)
	assert.Equal(t, Access{Seq: 1, Capability: capability.SQL, Op: OpWrite, Key: capability.KeyQueryResult}, acc[0])
	assert.Equal(t, Access{Seq: 2, Capability: capability.Analysis, Op: OpRead, Key: capability.KeyQueryResult}, acc[1])

	reads, writes := tr.For(capability.SQL)
	assert.Empty(t, reads)
	assert.Equal(t, []string{capability.KeyQueryResult}, writes)
}
