package capability

import (
	"context"
	"fmt"
	"strings"
)

// Provider is an external collaborator answering questions for one capability.
type Provider interface {
	Invoke(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)

// Invoke calls f(ctx, req).
func (f ProviderFunc) Invoke(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	return f(ctx, req)
}

// ProviderRequest is sent to a provider.
type ProviderRequest struct {
	Question    string            `json:"question"`
	SharedState StateView         `json:"-"`
	Context     map[string]string `json:"context,omitempty"`
}

// ProviderResponse is returned by a provider. Data is optional structured
// output; for the SQL provider it holds the result rows.
type ProviderResponse struct {
	Text      string     `json:"text"`
	Data      any        `json:"data,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// SchemaIntrospector describes the configured warehouse.
type SchemaIntrospector interface {
	Introspect(ctx context.Context) (*WarehouseSchema, error)
}

// WarehouseSchema is the schema description cached at session initialization.
type WarehouseSchema struct {
	// Kind tags the warehouse engine, e.g. "sqlite" or "postgres".
	Kind string `json:"kind"`
	// Dataset names the dataset or database the schema was read from.
	Dataset string `json:"dataset,omitempty"`
	// Tables lists the table definitions with sample rows.
	Tables []Table `json:"tables"`
	// Text is the textual schema (DDL plus sample rows) handed to classifiers.
	Text string `json:"text"`
}

// TableNames returns the table names in declaration order.
func (s *WarehouseSchema) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Render produces the textual schema description from Tables.
func (s *WarehouseSchema) Render() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, t := range s.Tables {
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Name)
		for i, c := range t.Columns {
			sep := ","
			if i == len(t.Columns)-1 {
				sep = ""
			}
			fmt.Fprintf(&b, "  %s %s%s\n", c.Name, c.Type, sep)
		}
		b.WriteString(");\n")
		if len(t.SampleRows) > 0 {
			b.WriteString("-- sample rows:\n")
			for _, row := range t.SampleRows {
				fmt.Fprintf(&b, "-- %s\n", strings.Join(row, " | "))
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Table is one table definition.
type Table struct {
	Name       string     `json:"name"`
	Columns    []Column   `json:"columns"`
	SampleRows [][]string `json:"sample_rows,omitempty"`
}

// Column is one column definition.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Retriever performs similarity search against a documentation corpus.
type Retriever interface {
	Retrieve(ctx context.Context, q RetrievalQuery) ([]Passage, error)
}

// RetrievalQuery parameterizes a similarity search.
type RetrievalQuery struct {
	Corpus string
	Text   string
	// TopK caps the number of passages returned.
	TopK int
	// DistanceThreshold drops passages farther than this vector distance.
	DistanceThreshold float64
}

// Passage is one ranked retrieval hit.
type Passage struct {
	ID       string         `json:"id"`
	Source   string         `json:"source,omitempty"`
	Text     string         `json:"text"`
	Distance float64        `json:"distance"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
