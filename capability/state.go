package capability

// Session state keys shared between the router and the adapters.
const (
	KeyDatabaseSettings  = "database_settings"   // map[string]any - warehouse kind, schema text, tables
	KeyAllDBSettings     = "all_db_settings"     // map[string]any - {"use_database": kind}, written once
	KeyDBAgentOutput     = "db_agent_output"     // *Result - last SQL capability result
	KeyQueryResult       = "query_result"        // any - rows extracted from the last SQL result
	KeyDSAgentOutput     = "ds_agent_output"     // *Result - last analysis result
	KeySearchAgentOutput = "search_agent_output" // *Result - last web search result
	KeyMLAgentOutput     = "ml_agent_output"     // *Result - last ML result
)

// Keys inside the all_db_settings and database_settings values.
const (
	SettingUseDatabase = "use_database"
	SettingKind        = "kind"
	SettingSchema      = "schema"
	SettingTables      = "tables"
	SettingDataset     = "dataset"
)

// NoAnalysis is the sentinel question asking the analysis capability to
// return the last SQL result instead of computing anything new.
const NoAnalysis = "N/A"

// StateView is the session state as seen by a capability.
type StateView interface {
	// Get returns the value stored under key.
	Get(key string) (any, bool)

	// Require returns the value stored under key or a *MissingStateError.
	Require(key string) (any, error)

	// Set stores value under key, overwriting any previous value.
	Set(key string, value any)

	// Has reports whether key is present.
	Has(key string) bool

	// Delete removes key.
	Delete(key string)
}

// Keys of Request.Context and ProviderRequest.Context set by the router and
// the adapters.
const (
	ContextSchema    = "schema"    // textual warehouse schema for this turn
	ContextWarehouse = "warehouse" // warehouse kind, e.g. "sqlite"
	ContextDataset   = "dataset"   // dataset or database identifier
	ContextHistory   = "history"   // condensed prior turns
)
