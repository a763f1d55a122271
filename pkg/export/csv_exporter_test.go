package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()
	content, err := exporter.Render(Dataset{
		Headers: []string{"id", "email"},
		Rows: []map[string]string{
			{"id": "u1", "email": "ada@example.com"},
			{"id": "u2", "email": "grace@example.com"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "id,email\nu1,ada@example.com\nu2,grace@example.com\n", string(content))
}

func TestCSVExporterQuotesCommas(t *testing.T) {
	exporter := NewCSVExporter()
	content, err := exporter.Render(Dataset{
		Headers: []string{"full_name"},
		Rows:    []map[string]string{{"full_name": "Lovelace, Ada"}},
	})
	require.NoError(t, err)
	require.Equal(t, "full_name\n\"Lovelace, Ada\"\n", string(content))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}
