package audio

import (
	"log/slog"
	"sort"
	"sync"
)

// ListInputDevices maps display name to device for every device with at
// least one input channel. Enumeration failures yield an empty map.
func ListInputDevices(host Host) map[string]DeviceInfo {
	devices := make(map[string]DeviceInfo)
	if host == nil {
		return devices
	}

	all, err := host.Devices()
	if err != nil {
		slog.Warn("Failed to query audio devices", "error", err)
		return devices
	}

	for _, dev := range all {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		if _, dup := devices[dev.Name]; dup {
			slog.Debug("Ignoring duplicate device name", "device", dev.Name, "index", dev.Index)
			continue
		}
		devices[dev.Name] = dev
	}
	return devices
}

// Directory caches the input device list between refreshes.
type Directory struct {
	host Host

	mu      sync.RWMutex
	devices map[string]DeviceInfo
}

func NewDirectory(host Host) *Directory {
	return &Directory{
		host:    host,
		devices: make(map[string]DeviceInfo),
	}
}

// Refresh re-enumerates the host devices.
func (d *Directory) Refresh() {
	devices := ListInputDevices(d.host)

	d.mu.Lock()
	d.devices = devices
	d.mu.Unlock()

	slog.Debug("Audio devices refreshed", "count", len(devices))
}

// Lookup resolves a display name. An unknown or empty name is not an error,
// it just means no device is selected.
func (d *Directory) Lookup(name string) (DeviceInfo, bool) {
	if name == "" {
		return DeviceInfo{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[name]
	return dev, ok
}

// Names returns the known device names sorted alphabetically.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.devices))
	for name := range d.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Devices returns a copy of the cached device map.
func (d *Directory) Devices() map[string]DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]DeviceInfo, len(d.devices))
	for k, v := range d.devices {
		out[k] = v
	}
	return out
}
