package templates

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"secuflow/pkg/models"
)

// ErrNotFound is returned when the template CSV does not exist.
var ErrNotFound = errors.New("templates file not found")

var (
	eventIDColumns  = []string{"eventid", "event_id"}
	templateColumns = []string{"eventtemplate", "event_template"}
)

// ColumnsError reports a template CSV whose header lacks the required columns.
type ColumnsError struct {
	Path    string
	Columns []string
}

func (e *ColumnsError) Error() string {
	return fmt.Sprintf("could not detect EventId / EventTemplate columns in %s. Found columns: [%s]",
		e.Path, strings.Join(e.Columns, ", "))
}

// Lookup finds message templates for event identifiers in a CSV file.
type Lookup struct {
	fs   afero.Fs
	path string
}

// New creates a lookup over path. A nil fs means the OS filesystem.
func New(fs afero.Fs, path string) *Lookup {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Lookup{fs: fs, path: path}
}

// Find returns the sorted, distinct templates whose identifier equals eventID exactly.
func (l *Lookup) Find(eventID string) (models.TemplateMatch, error) {
	f, err := l.fs.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.TemplateMatch{}, fmt.Errorf("%w at %s", ErrNotFound, l.path)
		}
		return models.TemplateMatch{}, fmt.Errorf("open templates file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return models.TemplateMatch{}, &ColumnsError{Path: l.path, Columns: []string{}}
	}
	if err != nil {
		return models.TemplateMatch{}, fmt.Errorf("read templates header: %w", err)
	}

	idCol, tplCol, found := resolveColumns(header)
	if idCol < 0 || tplCol < 0 {
		return models.TemplateMatch{}, &ColumnsError{Path: l.path, Columns: found}
	}

	var matches []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.TemplateMatch{}, fmt.Errorf("read templates file %s: %w", l.path, err)
		}
		if idCol >= len(row) || tplCol >= len(row) {
			continue
		}
		if row[idCol] == eventID && row[tplCol] != "" {
			matches = append(matches, row[tplCol])
		}
	}

	out := lo.Uniq(matches)
	sort.Strings(out)
	return models.TemplateMatch{
		EventID:        eventID,
		TemplatesFound: len(out),
		Templates:      out,
	}, nil
}

// resolveColumns returns the identifier and template column indexes (-1 when absent)
// and the trimmed header names. The last matching header wins.
func resolveColumns(header []string) (int, int, []string) {
	idCol, tplCol := -1, -1
	found := make([]string, 0, len(header))
	for i, name := range header {
		trimmed := strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		found = append(found, trimmed)

		norm := strings.ToLower(trimmed)
		if lo.Contains(eventIDColumns, norm) {
			idCol = i
		}
		if lo.Contains(templateColumns, norm) {
			tplCol = i
		}
	}
	return idCol, tplCol, found
}
