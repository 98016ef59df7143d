package session

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"tunet/internal/domain"
	"tunet/internal/scrape"
)

// fakePortal serves the gateway, portal and probe endpoints from one server
type fakePortal struct {
	mu           sync.Mutex
	checkReply   string
	loginReply   string
	signIn       []string
	profile      string
	devices      string
	dropReply    string
	probeReply   string
	blockPath    string
	started      chan struct{}
	calls        map[string]int
	lastLogin    url.Values
	droppedToken string
}

func newFakePortal(t *testing.T) (*fakePortal, *httptest.Server) {
	t.Helper()

	p := &fakePortal{
		checkReply: "not_online",
		loginReply: "Login is successful.",
		signIn:     []string{"ok"},
		profile:    profileHTML("1000000", "10.00"),
		devices:    devicesHTML(),
		dropReply:  DropAcknowledgement,
		probeReply: "Microsoft Connect Test",
		started:    make(chan struct{}, 8),
		calls:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/do_login.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		action := r.PostForm.Get("action")
		p.block(w, r, action)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls[action]++
		switch action {
		case "check_online":
			write(w, p.checkReply)
		case "login":
			p.lastLogin = r.PostForm
			write(w, p.loginReply)
		default:
			http.Error(w, "bad action", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/do.php", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		p.block(w, r, "signin")

		p.mu.Lock()
		defer p.mu.Unlock()
		n := p.calls["signin"]
		p.calls["signin"]++
		if n >= len(p.signIn) {
			n = len(p.signIn) - 1
		}
		write(w, p.signIn[n])
	})
	mux.HandleFunc("/user_info.php", func(w http.ResponseWriter, r *http.Request) {
		p.block(w, r, "profile")

		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls["profile"]++
		write(w, p.profile)
	})
	mux.HandleFunc("/online_user_ipv4.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			r.ParseForm()
			p.block(w, r, "drops")

			p.mu.Lock()
			defer p.mu.Unlock()
			p.calls["drops"]++
			p.droppedToken = r.PostForm.Get("user_ip")
			write(w, p.dropReply)
			return
		}
		p.block(w, r, "devices")

		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls["devices"]++
		write(w, p.devices)
	})
	mux.HandleFunc("/connecttest.txt", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls["probe"]++
		write(w, p.probeReply)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return p, srv
}

// block parks the request until the client goes away when path is blocked
func (p *fakePortal) block(w http.ResponseWriter, r *http.Request, path string) {
	p.mu.Lock()
	blocked := p.blockPath == path
	p.mu.Unlock()
	if !blocked {
		return
	}
	p.started <- struct{}{}
	<-r.Context().Done()
}

func (p *fakePortal) set(fn func(p *fakePortal)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePortal) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func write(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func portalEndpoints(base string) Endpoints {
	return Endpoints{
		LogOn:       base + "/do_login.php",
		SignIn:      base + "/do.php",
		Profile:     base + "/user_info.php",
		Devices:     base + "/online_user_ipv4.php",
		Drop:        base + "/online_user_ipv4.php",
		Probe:       base + "/connecttest.txt",
		ProbeMarker: "Microsoft Connect Test",
	}
}

var (
	testMac   = domain.MacAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0x99}
	testClock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
)

func newTestSession(t *testing.T, base string, mutate ...func(*Config)) *Session {
	t.Helper()

	cfg := Config{
		Username:   "alice",
		Password:   "secret",
		CurrentMac: testMac,
		Endpoints:  portalEndpoints(base),
		Grammar:    scrape.NewUseregGrammar(time.UTC),
		RetryDelay: time.Millisecond,
		Now:        func() time.Time { return testClock },
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func profileHTML(traffic, balance string) string {
	return `<html><body><table>
<tr><td>使用流量(IPV4)</td><td>` + traffic + `(byte)</td></tr>
<tr><td>帐户余额</td><td>` + balance + `(元)</td></tr>
</table></body></html>`
}

type row struct {
	ip, logOn, traffic, mac, token string
}

func devicesHTML(rows ...row) string {
	var sb strings.Builder
	sb.WriteString("<table>\n<tr><th>IP</th></tr>\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, `<tr align="center">`+
			`<td class="maintd"><input type="checkbox" value="%s"/>%s</td>`+
			`<td class="maintd">%s</td><td class="maintd">%s</td>`+
			`<td class="maintd"></td><td class="maintd"></td><td class="maintd"></td>`+
			`<td class="maintd">%s</td><td class="maintd">Linux</td></tr>`+"\n",
			r.token, r.ip, r.logOn, r.traffic, r.mac)
	}
	sb.WriteString("</table>")
	return sb.String()
}

func key(ip, mac string) domain.DeviceKey {
	parsedIP, err := domain.ParseIPv4(ip)
	if err != nil {
		panic(err)
	}
	parsedMac, err := domain.ParseMac(mac)
	if err != nil {
		panic(err)
	}
	return domain.DeviceKey{IP: parsedIP, MAC: parsedMac}
}
