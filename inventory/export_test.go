package inventory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/skillflow/types"
)

func seedExports(t *testing.T, s *Store) {
	t.Helper()
	records := []types.ExecutionRecord{
		exec("fetch", types.StatusSuccess, 12.5, baseTime),
		exec("fetch", types.StatusFailure, 40, baseTime.Add(time.Minute)),
		exec("parse", types.StatusSuccess, 3, baseTime.Add(2*time.Minute)),
	}
	records[0].Confidence = types.Float64(0.9)
	records[1].Error = "bad, gateway"
	require.NoError(t, s.SaveExecutions(context.Background(), records))
}

func TestExport_JSON(t *testing.T) {
	s := openTestStore(t)
	seedExports(t, s)

	var buf bytes.Buffer
	n, err := s.Export(context.Background(), &buf, "json", ExportFilter{SkillID: "fetch"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var out []types.ExecutionRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, types.StatusSuccess, out[0].Status, "oldest first")
	assert.Equal(t, 12.5, out[0].DurationMs)
}

func TestExport_JSONL(t *testing.T) {
	s := openTestStore(t)
	seedExports(t, s)

	var buf bytes.Buffer
	n, err := s.Export(context.Background(), &buf, "JSONL", ExportFilter{Since: baseTime.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var rec types.ExecutionRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.NotEmpty(t, rec.ArgsHash)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestExport_CSV(t *testing.T) {
	s := openTestStore(t)
	seedExports(t, s)

	var buf bytes.Buffer
	n, err := s.Export(context.Background(), &buf, "csv", ExportFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "0.9", rows[1][6])
	assert.Equal(t, "bad, gateway", rows[2][7], "commas survive quoting")
	assert.Equal(t, "", rows[2][6], "missing confidence is empty")
}

func TestExport_UnknownFormat(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Export(context.Background(), &bytes.Buffer{}, "xml", ExportFilter{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
