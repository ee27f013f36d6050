package session

import (
	"context"
	"errors"

	"github.com/aixgo-dev/datapilot/capability"
	"go.uber.org/zap"
)

// StateManager performs the one-time warehouse initialization of a session.
type StateManager struct {
	introspector capability.SchemaIntrospector
	warehouse    string
	logger       *zap.Logger
}

// NewStateManager creates a state manager. warehouse is the configured
// warehouse kind, used in errors when introspection fails.
func NewStateManager(introspector capability.SchemaIntrospector, warehouse string, logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{introspector: introspector, warehouse: warehouse, logger: logger}
}

// Initialize populates all_db_settings and database_settings once per
// session. When all_db_settings is present it performs no I/O and no
// mutation. When introspection fails nothing is written and a
// *capability.SchemaUnavailableError is returned, so the next turn retries.
func (m *StateManager) Initialize(ctx context.Context, st capability.StateView) error {
	if st.Has(capability.KeyAllDBSettings) {
		return nil
	}
	if m.introspector == nil {
		return &capability.SchemaUnavailableError{Warehouse: m.warehouse, Err: errors.New("no warehouse configured")}
	}

	schema, err := m.introspector.Introspect(ctx)
	if err != nil {
		m.logger.Warn("schema introspection failed", zap.String("warehouse", m.warehouse), zap.Error(err))
		return &capability.SchemaUnavailableError{Warehouse: m.warehouse, Err: err}
	}

	kind := schema.Kind
	if kind == "" {
		kind = m.warehouse
	}
	text := schema.Text
	if text == "" {
		text = schema.Render()
	}

	st.Set(capability.KeyDatabaseSettings, map[string]any{
		capability.SettingKind:    kind,
		capability.SettingDataset: schema.Dataset,
		capability.SettingSchema:  text,
		capability.SettingTables:  schema.TableNames(),
	})
	st.Set(capability.KeyAllDBSettings, map[string]any{
		capability.SettingUseDatabase: kind,
	})

	m.logger.Info("session warehouse initialized",
		zap.String("warehouse", kind),
		zap.Int("tables", len(schema.Tables)))
	return nil
}

// SchemaInfo is the cached warehouse description read back from state.
type SchemaInfo struct {
	Kind    string
	Dataset string
	Text    string
	Tables  []string
}

// SchemaFromState returns the cached schema, if initialization succeeded.
func SchemaFromState(st capability.StateView) (SchemaInfo, bool) {
	v, ok := st.Get(capability.KeyDatabaseSettings)
	if !ok {
		return SchemaInfo{}, false
	}
	settings, ok := v.(map[string]any)
	if !ok {
		return SchemaInfo{}, false
	}
	info := SchemaInfo{}
	info.Kind, _ = settings[capability.SettingKind].(string)
	info.Dataset, _ = settings[capability.SettingDataset].(string)
	info.Text, _ = settings[capability.SettingSchema].(string)
	switch tables := settings[capability.SettingTables].(type) {
	case []string:
		info.Tables = tables
	case []any:
		// JSON-decoded from a persistent backend.
		for _, t := range tables {
			if s, ok := t.(string); ok {
				info.Tables = append(info.Tables, s)
			}
		}
	}
	return info, true
}

// WarehouseKind returns the active warehouse kind from all_db_settings.
func WarehouseKind(st capability.StateView) string {
	v, ok := st.Get(capability.KeyAllDBSettings)
	if !ok {
		return ""
	}
	settings, _ := v.(map[string]any)
	kind, _ := settings[capability.SettingUseDatabase].(string)
	return kind
}
