// Package scrape extracts typed data from the self-service portal's HTML
// reports.
//
// The portal has no API; its profile page and online devices table are
// treated as a semi-structured protocol. Grammar isolates that protocol so a
// page layout change only touches one implementation.
//
// # Profile page
//
// The page text (tags stripped) contains, in order:
//
//	使用流量(IPV4) <digits>(byte) ... 帐户余额 <decimal>(元)
//
// Both groups are required; anything else is a FormatError carrying the body.
//
// # Online devices report
//
// Each device is a <tr align="center"> block. Its <td class="maintd"> cells
// are positional (see DeviceColumns), and the disconnect token is the numeric
// value="..." attribute of the row's checkbox.
package scrape

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tunet/internal/domain"
)

// ErrFormat is matched by every FormatError
var ErrFormat = errors.New("unexpected report format")

// FormatError reports a page that does not match the grammar. Body holds the
// raw response for diagnostics.
type FormatError struct {
	Report string
	Reason string
	Body   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Report, e.Reason)
}

// Is makes errors.Is(err, ErrFormat) true
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// Profile is the data extracted from the account profile page
type Profile struct {
	Traffic domain.ByteSize
	Balance decimal.Decimal
}

// Grammar parses the two portal reports
type Grammar interface {
	ParseProfile(body string) (Profile, error)
	ParseDeviceRows(body string) ([]domain.DeviceSnapshot, error)
}

// DeviceColumns are the positions of each field among a row's maintd cells.
// A negative index disables the field.
type DeviceColumns struct {
	IP        int
	LogOnTime int
	Traffic   int
	MAC       int
	Family    int
}

// DefaultDeviceColumns matches the current online_user_ipv4 report
var DefaultDeviceColumns = DeviceColumns{
	IP:        0,
	LogOnTime: 1,
	Traffic:   2,
	MAC:       6,
	Family:    7,
}

// LogOnTimeLayout is the timestamp layout used by the devices report
const LogOnTimeLayout = "2006-01-02 15:04:05"

// UseregGrammar understands the usereg portal pages
type UseregGrammar struct {
	Columns  DeviceColumns
	Location *time.Location
}

// NewUseregGrammar returns a grammar with the default column layout.
// Timestamps are interpreted in loc, or the local zone when loc is nil.
func NewUseregGrammar(loc *time.Location) *UseregGrammar {
	if loc == nil {
		loc = time.Local
	}
	return &UseregGrammar{
		Columns:  DefaultDeviceColumns,
		Location: loc,
	}
}
