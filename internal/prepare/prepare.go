package prepare

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/valyala/fastjson"

	"secuflow/internal/logger"
	"secuflow/pkg/models"
)

// Format identifies a raw log export.
type Format string

const (
	// FormatCSV is a LogHub structured CSV export.
	FormatCSV Format = "csv"
	// FormatWinlogbeat is newline-delimited winlogbeat JSON.
	FormatWinlogbeat Format = "winlogbeat"
)

// csvRenames maps structured CSV headers to record fields.
var csvRenames = map[string]string{
	"Timestamp":  models.FieldTimestamp,
	"EventId":    models.FieldEventID,
	"Source":     models.FieldSource,
	"Content":    models.FieldMessage,
	"TemplateId": models.FieldTemplateID,
}

// winlogbeatFields maps record fields to candidate winlogbeat paths, first hit wins.
var winlogbeatFields = []struct {
	field string
	paths []string
}{
	{models.FieldTimestamp, []string{"@timestamp"}},
	{models.FieldEventID, []string{"winlog.event_id", "event.code", "event_id"}},
	{models.FieldSource, []string{"winlog.provider_name", "event.provider", "source"}},
	{models.FieldMessage, []string{"message"}},
	{"host", []string{"host.name", "host.hostname", "hostname"}},
	{"channel", []string{"winlog.channel"}},
	{"record_id", []string{"winlog.record_id"}},
}

const maxLineSize = 4 * 1024 * 1024

// DetectFormat guesses the input format from its file name.
func DetectFormat(path string) (Format, error) {
	name := strings.TrimSuffix(strings.ToLower(path), ".zst")
	switch filepath.Ext(name) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatWinlogbeat, nil
	default:
		return "", fmt.Errorf("cannot detect input format of %s", path)
	}
}

// Convert reads the input export and writes the normalized JSON array to output.
// It returns the number of records written.
func Convert(fs afero.Fs, input, output string, format Format) (int, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	f, err := fs.Open(input)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if isZstd(input) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("open zstd input: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var records []models.LogRecord
	switch format {
	case FormatCSV:
		records, err = FromStructuredCSV(r)
	case FormatWinlogbeat:
		records, err = FromWinlogbeat(r)
	default:
		return 0, fmt.Errorf("unknown input format: %s", format)
	}
	if err != nil {
		return 0, fmt.Errorf("convert %s: %w", input, err)
	}

	if err := WriteRecords(fs, output, records); err != nil {
		return 0, err
	}
	logger.Infof("Saved %d logs to %s", len(records), output)
	return len(records), nil
}

// FromStructuredCSV converts a structured CSV export. Every value is kept as a string;
// cells missing from short rows are empty.
func FromStructuredCSV(r io.Reader) ([]models.LogRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return []models.LogRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	fields := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if renamed, ok := csvRenames[name]; ok {
			name = renamed
		}
		fields[i] = name
	}

	records := []models.LogRecord{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		rec := make(models.LogRecord, len(fields))
		for i, field := range fields {
			if i < len(row) {
				rec[field] = row[i]
			} else {
				rec[field] = ""
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// FromWinlogbeat converts newline-delimited winlogbeat events. Blank lines are skipped and
// fields absent from an event are left out of its record.
func FromWinlogbeat(r io.Reader) ([]models.LogRecord, error) {
	var p fastjson.Parser
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	records := []models.LogRecord{}
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		v, err := p.ParseBytes(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if v.Type() != fastjson.TypeObject {
			return nil, fmt.Errorf("line %d: event is not an object", line)
		}

		rec := make(models.LogRecord, len(winlogbeatFields))
		for _, m := range winlogbeatFields {
			if s, ok := getString(v, m.paths...); ok {
				rec[m.field] = s
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return records, nil
}

// WriteRecords writes records as an indented JSON array, zstd-compressed when path ends in .zst.
func WriteRecords(fs afero.Fs, path string, records []models.LogRecord) error {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if records == nil {
		records = []models.LogRecord{}
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	var w io.Writer = f
	var enc *zstd.Encoder
	if isZstd(path) {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("create zstd writer: %w", err)
		}
		w = enc
	}

	_, err = w.Write(data)
	if enc != nil {
		err = errors.Join(err, enc.Close())
	}
	err = errors.Join(err, f.Close())
	if err != nil {
		return fmt.Errorf("write output %s: %w", path, err)
	}
	return nil
}

func getString(root *fastjson.Value, paths ...string) (string, bool) {
	for _, path := range paths {
		v := root.Get(strings.Split(path, ".")...)
		if v == nil {
			continue
		}
		switch v.Type() {
		case fastjson.TypeString:
			return string(v.GetStringBytes()), true
		case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
			return v.String(), true
		}
	}
	return "", false
}

func isZstd(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zst")
}
