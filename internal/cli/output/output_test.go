package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{" JSON ", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintTable(t *testing.T) {
	table := NewTable("Name", "Kind")
	table.AddRow("pidfile", "early-module")
	table.AddRow("standard", "kernel")

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, table))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "pidfile")
	assert.Contains(t, out, "kernel")
}

func TestPrintKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintKeyValues(&buf, [][2]string{{"kernel", "standard"}}))
	assert.Contains(t, buf.String(), "kernel")
	assert.Contains(t, buf.String(), "standard")
}

func TestPrintStructured(t *testing.T) {
	data := map[string]any{"kernel": "standard", "restarts": 1}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatJSON, data))
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fromJSON))
	assert.Equal(t, "standard", fromJSON["kernel"])

	buf.Reset()
	require.NoError(t, Print(&buf, FormatYAML, data))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	assert.Equal(t, 1, fromYAML["restarts"])

	// Tables fall back to YAML for plain values.
	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, data))
	assert.Contains(t, buf.String(), "kernel: standard")

	assert.Error(t, Print(&buf, Format("xml"), data))
}
