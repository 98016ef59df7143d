package session

import (
	"context"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"tunet/internal/domain"
	"tunet/internal/transport"
)

// ErrCannotRename is returned when renaming a device whose MAC is unknown
var ErrCannotRename = errors.New("device without a known mac cannot be renamed")

// DropAcknowledgement is the portal's literal reply to an accepted drop
const DropAcknowledgement = "下线请求已发送"

const (
	unknownDeviceName = "Unknown device"
	currentDeviceName = "Current device"
)

// Device is one device online on the account. Its identity never changes;
// the mutable fields are rewritten in place by each refresh.
type Device struct {
	key     domain.DeviceKey
	session *Session

	mu        sync.RWMutex
	traffic   domain.ByteSize
	logOnTime time.Time
	dropToken string
	family    domain.DeviceFamily
	handle    *transport.Handle
}

// DeviceInfo is a read-only copy of a device for display and JSON
type DeviceInfo struct {
	IP        domain.Ipv4Address  `json:"ip"`
	MAC       domain.MacAddress   `json:"mac"`
	Name      string              `json:"name"`
	Family    domain.DeviceFamily `json:"family"`
	Traffic   domain.ByteSize     `json:"web_traffic"`
	LogOnTime time.Time           `json:"logon_time"`
	CanRename bool                `json:"can_rename"`
	CanDrop   bool                `json:"can_drop"`
}

func newDevice(s *Session, snap domain.DeviceSnapshot, h *transport.Handle) *Device {
	d := &Device{key: snap.Key(), session: s}
	d.update(snap, h)
	return d
}

func (d *Device) update(snap domain.DeviceSnapshot, h *transport.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.traffic = snap.Traffic
	d.logOnTime = snap.LogOnTime
	d.dropToken = snap.DropToken
	d.family = snap.Family
	d.handle = h
}

// retire drops the device's reference to the shared handle. The session
// owns the handle and releases it.
func (d *Device) retire() {
	d.mu.Lock()
	d.handle = nil
	d.mu.Unlock()
}

// Key is the device identity
func (d *Device) Key() domain.DeviceKey { return d.key }

func (d *Device) IP() domain.Ipv4Address { return d.key.IP }

func (d *Device) MAC() domain.MacAddress { return d.key.MAC }

// CanRename is false for devices the portal reported without a MAC
func (d *Device) CanRename() bool { return !d.key.MAC.IsUnknown() }

func (d *Device) Family() domain.DeviceFamily {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.family
}

func (d *Device) Traffic() domain.ByteSize {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.traffic
}

func (d *Device) LogOnTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logOnTime
}

// CanDrop reports whether the device has a token and a live handle
func (d *Device) CanDrop() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropToken != "" && !d.handle.Released()
}

// Name returns the display name: the rename map entry if any, a fixed label
// for the current device or an unknown MAC, otherwise the MAC itself
func (d *Device) Name() string {
	if d.key.MAC.IsUnknown() {
		return unknownDeviceName
	}
	if name, ok := d.session.names.Lookup(d.key.MAC); ok {
		return name
	}
	if d.key.MAC == d.session.currentMac {
		return currentDeviceName
	}
	return d.key.MAC.String()
}

// SetName renames the device; an empty name restores the default
func (d *Device) SetName(ctx context.Context, name string) error {
	if !d.CanRename() {
		return ErrCannotRename
	}
	if err := d.session.names.Set(ctx, d.key.MAC, name); err != nil {
		return err
	}
	d.session.notifier.publish(deviceEvent(DeviceRenamed, d.key))
	return nil
}

// Info returns a snapshot of the device
func (d *Device) Info() DeviceInfo {
	d.mu.RLock()
	info := DeviceInfo{
		IP:        d.key.IP,
		MAC:       d.key.MAC,
		Family:    d.family,
		Traffic:   d.traffic,
		LogOnTime: d.logOnTime,
		CanDrop:   d.dropToken != "" && !d.handle.Released(),
	}
	d.mu.RUnlock()

	info.Name = d.Name()
	info.CanRename = d.CanRename()
	return info
}

// Drop asks the portal to disconnect the device. The result is false for any
// reply other than the acknowledgement, for transport failures, and when the
// device has no live handle; only cancellation is returned as an error.
func (d *Device) Drop(ctx context.Context) (bool, error) {
	d.mu.RLock()
	handle, token := d.handle, d.dropToken
	d.mu.RUnlock()

	if token == "" || handle.Released() {
		return false, nil
	}

	body, err := handle.PostForm(ctx, d.session.endpoints.Drop, url.Values{
		"action":  {"drops"},
		"user_ip": {token},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.Printf("Failed to drop device %s: %v", d.key, err)
		return false, nil
	}

	return body == DropAcknowledgement, nil
}
