// Package codec renders command output in machine-readable formats.
package codec

import (
	"fmt"
	"io"
	"sort"
)

// Exporter writes a value in one format
type Exporter interface {
	Export(v interface{}, w io.Writer) error
	Format() string
}

var exporters = map[string]Exporter{
	"json": NewJSONCodec(),
	"yaml": NewYAMLCodec(),
}

// ForFormat returns the exporter registered for format
func ForFormat(format string) (Exporter, error) {
	if e, ok := exporters[format]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("unknown output format %q (want one of %v)", format, Formats())
}

// Formats lists the registered format names
func Formats() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
