// Package export renders lead lists as CSV, XLSX, JSON and YAML.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lexleads/internal/model"
)

// DefaultHeaders are the column titles in Lead field order.
var DefaultHeaders = []string{"Law Firm", "Contact", "Phone", "Address", "Source URL"}

// Format is an output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. An empty name is CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", eris.Errorf("export: unknown format %q (want csv, xlsx, json or yaml)", s)
	}
}

// Write renders leads in format f.
func Write(w io.Writer, f Format, leads []model.Lead, headers []string) error {
	switch f {
	case FormatCSV, "":
		return WriteCSV(w, leads, headers)
	case FormatXLSX:
		return WriteXLSX(w, leads, headers, "")
	case FormatJSON:
		return WriteJSON(w, leads)
	case FormatYAML:
		return WriteYAML(w, leads)
	default:
		return eris.Errorf("export: unknown format %q", f)
	}
}

// WriteCSV writes a UTF-8 CSV with a byte order mark, one header row and
// one row per lead. Quotes inside fields are doubled.
func WriteCSV(w io.Writer, leads []model.Lead, headers []string) error {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}

	bw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(bw)

	if err := cw.Write(headers); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, l := range leads {
		if err := cw.Write(l.Fields()); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return eris.Wrap(bw.Close(), "export: close csv")
}

type jsonLead struct {
	LawFirm   string `json:"lawFirm" yaml:"law_firm"`
	Contact   string `json:"contact" yaml:"contact"`
	Phone     string `json:"phone" yaml:"phone"`
	Address   string `json:"address" yaml:"address"`
	SourceURL string `json:"sourceUrl" yaml:"source_url"`
}

func toDocs(leads []model.Lead) []jsonLead {
	out := make([]jsonLead, 0, len(leads))
	for _, l := range leads {
		out = append(out, jsonLead(l))
	}
	return out
}

// WriteJSON writes the leads as an indented JSON array.
func WriteJSON(w io.Writer, leads []model.Lead) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(toDocs(leads)), "export: write json")
}

// WriteYAML writes the leads as a YAML sequence.
func WriteYAML(w io.Writer, leads []model.Lead) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(toDocs(leads)); err != nil {
		return eris.Wrap(err, "export: write yaml")
	}
	return eris.Wrap(enc.Close(), "export: close yaml")
}
