package prepare

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secuflow/internal/logstore"
	"secuflow/pkg/models"
)

const structuredCSV = "\ufeffLineId,Date,Time,Level,Component,Content,EventId,EventTemplate\n" +
	"1,2016-09-28,04:30:30,Info,CBS,Loaded Servicing Stack v6.1.7601.23505,E36,Loaded Servicing Stack <*>\n" +
	"2,2016-09-28,04:30:31,Info,CBS,\"Ending TrustedInstaller, cleanup\",E24,Ending TrustedInstaller <*>\n" +
	"3,2016-09-28,04:30:31\n"

const winlogbeatNDJSON = `{"@timestamp":"2024-05-01T10:00:00.000Z","message":"An account was successfully logged on.","host":{"name":"dc01"},"winlog":{"event_id":4624,"provider_name":"Microsoft-Windows-Security-Auditing","channel":"Security","record_id":"991"}}

{"@timestamp":"2024-05-01T10:00:01.000Z","event":{"code":"4625","provider":"Security"},"message":"An account failed to log on."}
{"event_id":"7036","source":"Service Control Manager","hostname":"ws02"}
`

func TestFromStructuredCSV(t *testing.T) {
	records, err := FromStructuredCSV(strings.NewReader(structuredCSV))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "E36", records[0].EventID())
	assert.Equal(t, "Loaded Servicing Stack v6.1.7601.23505", records[0][models.FieldMessage])
	assert.Equal(t, "Loaded Servicing Stack <*>", records[0]["EventTemplate"])
	assert.Equal(t, "1", records[0]["LineId"])
	assert.Equal(t, "Ending TrustedInstaller, cleanup", records[1][models.FieldMessage])

	assert.Equal(t, "", records[2][models.FieldEventID])
	assert.Equal(t, "", records[2].EventID())
}

func TestFromStructuredCSVRenamesLogHubColumns(t *testing.T) {
	input := "Timestamp,EventId,Source,Content,TemplateId\n2016-09-28 04:30:30,E1,CBS,hello,T1\n"
	records, err := FromStructuredCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, models.LogRecord{
		models.FieldTimestamp:  "2016-09-28 04:30:30",
		models.FieldEventID:    "E1",
		models.FieldSource:     "CBS",
		models.FieldMessage:    "hello",
		models.FieldTemplateID: "T1",
	}, records[0])
}

func TestFromStructuredCSVEmpty(t *testing.T) {
	records, err := FromStructuredCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFromWinlogbeat(t *testing.T) {
	records, err := FromWinlogbeat(strings.NewReader(winlogbeatNDJSON))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, models.LogRecord{
		models.FieldTimestamp: "2024-05-01T10:00:00.000Z",
		models.FieldEventID:   "4624",
		models.FieldSource:    "Microsoft-Windows-Security-Auditing",
		models.FieldMessage:   "An account was successfully logged on.",
		"host":                "dc01",
		"channel":             "Security",
		"record_id":           "991",
	}, records[0])

	assert.Equal(t, "4625", records[1].EventID())
	assert.Equal(t, "Security", records[1].Source())
	_, hasHost := records[1]["host"]
	assert.False(t, hasHost)

	assert.Equal(t, "7036", records[2].EventID())
	assert.Equal(t, "Service Control Manager", records[2].Source())
	assert.Equal(t, "ws02", records[2]["host"])
	assert.Equal(t, models.Unknown, models.LogRecord{}.Source())
}

func TestFromWinlogbeatMalformedLine(t *testing.T) {
	_, err := FromWinlogbeat(strings.NewReader("{\"message\":\"ok\"}\n{broken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = FromWinlogbeat(strings.NewReader("[1,2]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an object")
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path     string
		expected Format
		wantErr  bool
	}{
		{"data/Windows_2k.log_structured.csv", FormatCSV, false},
		{"export.ndjson", FormatWinlogbeat, false},
		{"export.JSON.zst", FormatWinlogbeat, false},
		{"events.evtx", "", true},
	}
	for _, tc := range tests {
		got, err := DetectFormat(tc.path)
		if tc.wantErr {
			assert.Error(t, err, tc.path)
			continue
		}
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.expected, got, tc.path)
	}
}

func TestConvertRoundTripsThroughLogStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "data/structured.csv", []byte(structuredCSV), 0644))

	n, err := Convert(fs, "data/structured.csv", "logs/windows_logs.json", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := afero.ReadFile(fs, "logs/windows_logs.json")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("[\n  {")))

	records, err := logstore.NewFileStore(fs, "logs/windows_logs.json").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "E24", records[1].EventID())
}

func TestConvertZstdInputAndOutput(t *testing.T) {
	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write([]byte(winlogbeatNDJSON))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "export.ndjson.zst", compressed.Bytes(), 0644))

	n, err := Convert(fs, "export.ndjson.zst", "out/windows_logs.json.zst", FormatWinlogbeat)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := logstore.NewFileStore(fs, "out/windows_logs.json.zst").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "4624", records[0].EventID())
}

func TestConvertMissingInput(t *testing.T) {
	_, err := Convert(afero.NewMemMapFs(), "missing.csv", "out.json", FormatCSV)
	assert.Error(t, err)
}

func TestWriteRecordsNilIsEmptyArray(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteRecords(fs, "empty.json", nil))

	data, err := afero.ReadFile(fs, "empty.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
