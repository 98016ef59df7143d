package scrape

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"tunet/internal/domain"
)

var tokenPattern = regexp.MustCompile(`^\d+$`)

// rawRow is one <tr align="center"> block before field conversion
type rawRow struct {
	cells []string
	token string
}

// ParseDeviceRows extracts one snapshot per device row. A report with no
// rows yields an empty slice; a row that does not convert is a FormatError.
func (g *UseregGrammar) ParseDeviceRows(body string) ([]domain.DeviceSnapshot, error) {
	rows := scanRows(body)
	snapshots := make([]domain.DeviceSnapshot, 0, len(rows))

	for i, row := range rows {
		snap, err := g.convertRow(row)
		if err != nil {
			return nil, &FormatError{
				Report: "online devices",
				Reason: fmt.Sprintf("row %d: %v", i, err),
				Body:   body,
			}
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

func (g *UseregGrammar) convertRow(row rawRow) (domain.DeviceSnapshot, error) {
	var snap domain.DeviceSnapshot
	cols := g.Columns

	cell := func(idx int) (string, bool) {
		if idx < 0 || idx >= len(row.cells) {
			return "", false
		}
		return row.cells[idx], true
	}

	ipText, ok := cell(cols.IP)
	if !ok {
		return snap, fmt.Errorf("missing ip column (have %d cells)", len(row.cells))
	}
	ip, err := domain.ParseIPv4(ipText)
	if err != nil {
		return snap, err
	}

	timeText, ok := cell(cols.LogOnTime)
	if !ok {
		return snap, fmt.Errorf("missing logon time column")
	}
	logOn, err := time.ParseInLocation(LogOnTimeLayout, timeText, g.location())
	if err != nil {
		return snap, fmt.Errorf("logon time: %w", err)
	}

	trafficText, ok := cell(cols.Traffic)
	if !ok {
		return snap, fmt.Errorf("missing traffic column")
	}
	traffic, err := domain.ParseByteSize(trafficText)
	if err != nil {
		return snap, err
	}

	// A missing MAC is legitimate: the portal leaves it blank for some
	// clients and the device is tracked with UnknownMac
	macText, _ := cell(cols.MAC)
	mac, err := domain.ParseMac(macText)
	if err != nil {
		return snap, err
	}

	familyText, _ := cell(cols.Family)

	return domain.DeviceSnapshot{
		IP:        ip,
		MAC:       mac,
		Traffic:   traffic,
		LogOnTime: logOn,
		DropToken: row.token,
		Family:    domain.ParseDeviceFamily(familyText),
	}, nil
}

func (g *UseregGrammar) location() *time.Location {
	if g.Location == nil {
		return time.Local
	}
	return g.Location
}

// scanRows tokenizes the report. The tokenizer is used instead of a DOM
// parse because the report may be a bare table fragment.
func scanRows(body string) []rawRow {
	z := html.NewTokenizer(strings.NewReader(body))

	var (
		rows    []rawRow
		current *rawRow
		cell    *strings.Builder
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if current != nil {
				rows = append(rows, *current)
			}
			return rows

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := readAttrs(z, hasAttr)

			switch string(name) {
			case "tr":
				if current != nil {
					rows = append(rows, *current)
					current = nil
				}
				if attrs["align"] == "center" {
					current = &rawRow{}
				}
			case "td":
				if current != nil && hasClass(attrs["class"], "maintd") {
					cell = &strings.Builder{}
				}
			}

			if current != nil && current.token == "" && tokenPattern.MatchString(attrs["value"]) {
				current.token = attrs["value"]
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "td":
				if current != nil && cell != nil {
					current.cells = append(current.cells, strings.TrimSpace(cell.String()))
					cell = nil
				}
			case "tr":
				if current != nil {
					rows = append(rows, *current)
					current = nil
				}
			}

		case html.TextToken:
			if cell != nil {
				cell.Write(z.Text())
			}
		}
	}
}

func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	attrs := make(map[string]string)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}

func hasClass(classAttr, class string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == class {
			return true
		}
	}
	return false
}
