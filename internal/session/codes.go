package session

import (
	"regexp"
	"strings"
)

// Responses of the logon endpoint are a single token. Failures are either a
// symbolic srun code ("ip_exist_error") or an E-code ("E2553: Password is
// error."), sometimes with trailing text.

var (
	passwordErrorPattern = regexp.MustCompile(`^password_error@(\d+)`)
	eCodePattern         = regexp.MustCompile(`\bE(\d{4})\b`)
	legacyOnlinePattern  = regexp.MustCompile(`^\d+,`)
)

// symbolicCodes maps srun symbolic failures to a readable category
var symbolicCodes = map[string]string{
	"username_error":    "user name does not exist",
	"user_tab_error":    "authentication program not started",
	"user_group_error":  "account does not belong to a service group",
	"non_auth_error":    "no authentication required, access is already open",
	"status_error":      "account is in arrears or suspended",
	"available_error":   "account is disabled",
	"delete_error":      "account has been deleted",
	"usernum_error":     "too many users online on this account",
	"online_num_error":  "too many users online on this account",
	"mode_error":        "the system is not accepting web logon",
	"time_policy_error": "logon is not allowed at this time",
	"flux_error":        "traffic quota exhausted",
	"minutes_error":     "time quota exhausted",
	"ip_exist_error":    "this IP address is already online",
	"mac_error":         "MAC address is not bound to the account",
	"sync_error":        "account data is being synchronized, retry later",
	"ip_error":          "IP address is not allowed",
	"owner_error":       "account is not open to this area",
}

// eCodes maps srun E-codes to a readable category
var eCodes = map[string]string{
	"E2531": "user name does not exist",
	"E2532": "logon attempts are too frequent, wait and retry",
	"E2533": "too many failed attempts, wait and retry",
	"E2534": "device is bound to another account",
	"E2535": "account is suspended",
	"E2536": "account has expired",
	"E2553": "wrong password",
	"E2601": "no permission to log on",
	"E2602": "device limit reached",
	"E2606": "account is disabled",
	"E2611": "device is not bound to the account",
	"E2613": "NAS port binding error",
	"E2614": "MAC address binding error",
	"E2615": "IP address binding error",
	"E2616": "account is in arrears",
	"E2620": "already online",
	"E2621": "online device limit reached",
	"E2806": "no product subscribed",
	"E2807": "no control policy bound",
	"E2808": "no control policy bound",
	"E2833": "IP address is abnormal, reconnect and retry",
	"E2840": "IP address is not allowed to log on",
	"E2841": "IP address is not allowed to log on",
	"E2842": "IP address is not allowed to log on",
	"E2843": "IP address is not allowed to log on",
	"E2844": "IP address is not allowed to log on",
	"E2901": "third-party authentication failed",
}

// isOnlineReply reports whether a check_online reply says the client is
// already authenticated. Older gateways answer "<uid>,<...>" instead.
func isOnlineReply(body string) bool {
	text := strings.TrimSpace(body)
	return strings.EqualFold(text, "online") || legacyOnlinePattern.MatchString(text)
}

// classifyLogOn maps a login reply to nil on success or a classified error
func classifyLogOn(body string) error {
	text := strings.TrimSpace(body)

	if m := passwordErrorPattern.FindStringSubmatch(text); m != nil {
		return &Error{Kind: KindPassword, Code: m[1]}
	}

	if isLogOnSuccess(text) {
		return nil
	}

	if m := eCodePattern.FindString(text); m != "" {
		msg, ok := eCodes[m]
		if !ok {
			msg = "unlisted server error"
		}
		if m == "E2553" {
			return &Error{Kind: KindPassword, Code: m, Message: msg}
		}
		return &Error{Kind: KindCoded, Code: m, Message: msg, Body: body}
	}

	for _, token := range symbolicTokens(text) {
		if msg, ok := symbolicCodes[token]; ok {
			if token == "username_error" {
				return &Error{Kind: KindUserName, Code: token, Message: msg}
			}
			return &Error{Kind: KindCoded, Code: token, Message: msg, Body: body}
		}
	}

	return &Error{Kind: KindUnknown, Body: body}
}

func isLogOnSuccess(text string) bool {
	lower := strings.ToLower(text)
	switch {
	case lower == "online", lower == "ok", lower == "login_ok":
		return true
	case strings.HasPrefix(lower, "login is successful"):
		return true
	case legacyOnlinePattern.MatchString(text):
		return true
	}
	return false
}

func symbolicTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z'))
	})
}
