// internal/capture/backend.go
package capture

import (
	"errors"
	"sort"
	"sync"
)

var ErrBackendNotFound = errors.New("no capture backend registered with this name")

// Backend bundles the device and file openers of one capture library.
type Backend struct {
	Devices DeviceOpener
	Files   FileOpener
}

type BackendFactory func() Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]BackendFactory{}
)

// RegisterBackend is called from the init() of each backend package.
func RegisterBackend(name string, f BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalize(name)] = f
}

func GetBackend(name string) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[normalize(name)]
	registryMu.RUnlock()
	if !ok {
		return Backend{}, ErrBackendNotFound
	}
	return f(), nil
}

// Backends lists registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	b := make([]rune, 0, len(s))
	for _, r := range s {
		// remove espaços, hífen, underline
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r + 32
		}
		b = append(b, r)
	}
	return string(b)
}
