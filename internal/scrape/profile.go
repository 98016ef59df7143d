package scrape

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"tunet/internal/domain"
)

var profilePattern = regexp.MustCompile(`(?s)使用流量\(IPV4\)\D*?(\d+)\s*\(byte\).*?帐户余额\D*?(\d+(?:\.\d+)?)\s*\(元\)`)

// ParseProfile extracts accumulated IPv4 traffic and account balance
func (g *UseregGrammar) ParseProfile(body string) (Profile, error) {
	text := htmlText(body)

	groups := profilePattern.FindStringSubmatch(text)
	if len(groups) != 3 {
		return Profile{}, &FormatError{Report: "profile", Reason: "traffic and balance not found", Body: body}
	}

	traffic, err := strconv.ParseUint(groups[1], 10, 64)
	if err != nil {
		return Profile{}, &FormatError{Report: "profile", Reason: "traffic out of range: " + groups[1], Body: body}
	}
	balance, err := decimal.NewFromString(groups[2])
	if err != nil {
		return Profile{}, &FormatError{Report: "profile", Reason: "bad balance: " + groups[2], Body: body}
	}

	return Profile{
		Traffic: domain.ByteSize(traffic),
		Balance: balance,
	}, nil
}

// htmlText strips tags, keeping one text node per line
func htmlText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var sb strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; either way the text so far is all we get
			return sb.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawTextTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawTextTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
	}
}

func isRawTextTag(name string) bool {
	return name == "script" || name == "style"
}
