package router

import (
	"fmt"
	"strings"

	"github.com/aixgo-dev/datapilot/capability"
	"github.com/aixgo-dev/datapilot/internal/compose"
)

func greetingAnswer(tc TurnContext) string {
	var b strings.Builder
	b.WriteString("Hello! I answer questions about your data.")
	if len(tc.Enabled) > 0 {
		names := make([]string, len(tc.Enabled))
		for i, n := range tc.Enabled {
			names[i] = compose.Label(n)
		}
		fmt.Fprintf(&b, " Available capabilities: %s.", strings.Join(names, ", "))
	}
	if len(tc.Tables) > 0 {
		fmt.Fprintf(&b, " The %s warehouse has these tables: %s.", warehouseName(tc), strings.Join(tc.Tables, ", "))
	}
	return b.String()
}

func schemaAnswer(tc TurnContext, withDDL bool) string {
	if !tc.SchemaKnown() {
		return "The warehouse schema is not available right now, so I cannot list its tables. Please try again shortly."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The %s warehouse has %d table(s): %s.", warehouseName(tc), len(tc.Tables), strings.Join(tc.Tables, ", "))
	if withDDL && tc.Schema != "" {
		b.WriteString("\n\n```sql\n" + tc.Schema + "\n```")
	}
	return b.String()
}

func schemaReason(tc TurnContext) string {
	if !tc.SchemaKnown() {
		return "Schema questions are answered from the cached schema, which could not be fetched."
	}
	return "Answered directly from the cached warehouse schema; no capabilities were invoked."
}

func clarifyAnswer(tc TurnContext) string {
	msg := "I could not tell which data you are asking about. Try naming a table or metric"
	if len(tc.Tables) > 0 {
		msg += fmt.Sprintf(", for example one of: %s", strings.Join(tc.Tables, ", "))
	}
	msg += "."
	if tc.enabled(capability.Docs) {
		msg += " Questions about definitions are looked up in the documentation."
	}
	return msg
}

func warehouseName(tc TurnContext) string {
	if tc.Warehouse == "" {
		return "configured"
	}
	return tc.Warehouse
}
