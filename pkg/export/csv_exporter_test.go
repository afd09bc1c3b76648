package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	data := Dataset{
		Columns: []Column{{Key: "id", Label: "Participant"}, {Key: "city"}},
		Rows: []map[string]string{
			{"id": "p1", "city": "Portland"},
			{"id": "p2"},
			{"id": "p3", "city": "Austin, TX"},
		},
	}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "Participant,city\np1,Portland\np2,\np3,\"Austin, TX\"\n", string(out))
}

func TestCSVExporterRequiresColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}
