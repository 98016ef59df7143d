// Package session is the network session client: it logs on to the network
// access gateway, signs in to the self-service portal, refreshes balance and
// traffic, and reconciles the account's online devices.
//
// A Session is created once and injected into whatever drives it (CLI,
// daemon trigger, HTTP API). State changes are published as field-identified
// events through a Notifier whose Dispatcher decides where subscribers run.
package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tunet/internal/cache"
	"tunet/internal/domain"
	"tunet/internal/scrape"
	"tunet/internal/transport"
)

// DefaultRetryDelay is the wait before the single portal sign-in retry
const DefaultRetryDelay = 500 * time.Millisecond

// Endpoints are the URLs the session talks to
type Endpoints struct {
	LogOn       string
	SignIn      string
	Profile     string
	Devices     string
	Drop        string
	Probe       string
	ProbeMarker string
}

// DefaultEndpoints returns the campus endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		LogOn:       "http://net.tsinghua.edu.cn/do_login.php",
		SignIn:      "http://usereg.tsinghua.edu.cn/do.php",
		Profile:     "http://usereg.tsinghua.edu.cn/user_info.php",
		Devices:     "http://usereg.tsinghua.edu.cn/online_user_ipv4.php",
		Drop:        "http://usereg.tsinghua.edu.cn/online_user_ipv4.php",
		Probe:       "http://www.msftconnecttest.com/connecttest.txt",
		ProbeMarker: "Microsoft Connect Test",
	}
}

// Config holds everything a session needs. Username and Password are
// required; zero values elsewhere get defaults.
type Config struct {
	Username string
	// Password is opaque; only its MD5 hex digest is kept
	Password   string
	CurrentMac domain.MacAddress
	Endpoints  Endpoints
	Grammar    scrape.Grammar
	Names      *NameBook
	Cache      cache.Store
	Dispatcher Dispatcher
	Transport  transport.Options
	RetryDelay time.Duration
	// Now is the clock used for UpdateTime
	Now func() time.Time
}

// Session is the aggregate root of the client state
type Session struct {
	username    string
	passwordMD5 string
	currentMac  domain.MacAddress
	endpoints   Endpoints
	grammar     scrape.Grammar
	names       *NameBook
	store       cache.Store
	httpOpts    transport.Options
	retryDelay  time.Duration
	now         func() time.Time
	notifier    *Notifier

	// One Refresh and one LogOn at a time; a slot is held while running
	refreshing chan struct{}
	loggingOn  chan struct{}

	mu         sync.RWMutex
	isOnline   bool
	balance    decimal.Decimal
	webTraffic domain.ByteSize
	updateTime time.Time
	devices    map[domain.DeviceKey]*Device
	handle     *transport.Handle
}

// New creates a session from cfg
func New(cfg Config) (*Session, error) {
	if cfg.Username == "" {
		return nil, errors.New("username is required")
	}

	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.Grammar == nil {
		cfg.Grammar = scrape.NewUseregGrammar(nil)
	}
	if cfg.Names == nil {
		cfg.Names = NewNameBook(nil)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Session{
		username:    cfg.Username,
		passwordMD5: PasswordDigest(cfg.Password),
		currentMac:  cfg.CurrentMac,
		endpoints:   cfg.Endpoints,
		grammar:     cfg.Grammar,
		names:       cfg.Names,
		store:       cfg.Cache,
		httpOpts:    cfg.Transport,
		retryDelay:  cfg.RetryDelay,
		now:         cfg.Now,
		notifier:    NewNotifier(cfg.Dispatcher),
		refreshing:  make(chan struct{}, 1),
		loggingOn:   make(chan struct{}, 1),
		devices:     make(map[domain.DeviceKey]*Device),
	}, nil
}

// acquire waits for slot to be free, or for ctx to end
func acquire(ctx context.Context, slot chan struct{}) error {
	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PasswordDigest is the lowercase MD5 hex digest both endpoints expect
func PasswordDigest(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Username returns the account name
func (s *Session) Username() string { return s.username }

// CurrentMac returns the MAC this client reports when logging on
func (s *Session) CurrentMac() domain.MacAddress { return s.currentMac }

// Notifier returns the session's change notifier
func (s *Session) Notifier() *Notifier { return s.notifier }

// Names returns the shared rename map
func (s *Session) Names() *NameBook { return s.names }

func (s *Session) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

func (s *Session) Balance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// WebTraffic is the traffic accumulated before the currently online devices
func (s *Session) WebTraffic() domain.ByteSize {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webTraffic
}

func (s *Session) UpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateTime
}

// ExactTraffic is WebTraffic plus the traffic of every online device
func (s *Session) ExactTraffic() domain.ByteSize {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exactTrafficLocked()
}

func (s *Session) exactTrafficLocked() domain.ByteSize {
	total := s.webTraffic
	for _, d := range s.devices {
		sum, err := total.Add(d.Traffic())
		if err != nil {
			return domain.MaxByteSize
		}
		total = sum
	}
	return total
}

// Devices returns the online devices ordered by IP, then MAC
func (s *Session) Devices() []*Device {
	s.mu.RLock()
	list := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		list = append(list, d)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return keyLess(list[i].key, list[j].key)
	})
	return list
}

// Device looks a device up by identity
func (s *Session) Device(key domain.DeviceKey) (*Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[key]
	return d, ok
}

// FindDevice returns the devices whose IP or MAC matches query
func (s *Session) FindDevice(query string) []*Device {
	var matches []*Device
	ip, ipErr := domain.ParseIPv4(query)
	mac, macErr := domain.ParseMac(query)

	for _, d := range s.Devices() {
		switch {
		case ipErr == nil && d.key.IP == ip:
			matches = append(matches, d)
		case macErr == nil && !mac.IsUnknown() && d.key.MAC == mac:
			matches = append(matches, d)
		}
	}
	return matches
}

// Status is a consistent copy of the session state
type Status struct {
	Username     string          `json:"username"`
	IsOnline     bool            `json:"is_online"`
	Balance      decimal.Decimal `json:"balance"`
	WebTraffic   domain.ByteSize `json:"web_traffic"`
	ExactTraffic domain.ByteSize `json:"exact_traffic"`
	UpdateTime   time.Time       `json:"update_time"`
	Devices      []DeviceInfo    `json:"devices"`
}

// Status returns a copy of the current state
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		Username:     s.username,
		IsOnline:     s.isOnline,
		Balance:      s.balance,
		WebTraffic:   s.webTraffic,
		ExactTraffic: s.exactTrafficLocked(),
		UpdateTime:   s.updateTime,
	}
	s.mu.RUnlock()

	devices := s.Devices()
	st.Devices = make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		st.Devices = append(st.Devices, d.Info())
	}
	return st
}

// Close releases the shared transport handle. Devices stay listed but can no
// longer be dropped until the next refresh.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	for _, d := range s.devices {
		d.retire()
	}
	s.mu.Unlock()

	h.Release()
	return nil
}

func (s *Session) setOnline(online bool) {
	s.mu.Lock()
	changed := s.isOnline != online
	s.isOnline = online
	s.mu.Unlock()

	if changed {
		s.notifier.publish(Event{Field: FieldIsOnline, Value: online})
	}
}

func keyLess(a, b domain.DeviceKey) bool {
	for i := range a.IP {
		if a.IP[i] != b.IP[i] {
			return a.IP[i] < b.IP[i]
		}
	}
	for i := range a.MAC {
		if a.MAC[i] != b.MAC[i] {
			return a.MAC[i] < b.MAC[i]
		}
	}
	return false
}
