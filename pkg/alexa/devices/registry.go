// Package devices keeps the device list of one account, cached for a short
// time so that command submissions do not list devices every time.
package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/pkg/alexa/types"
	"github.com/dgraph-io/ristretto"
	"github.com/go-logr/logr"
)

const (
	ListPath   = "/api/devices-v2/device?cached=false"
	DefaultTTL = 5 * time.Minute
	listKey    = "devices"
)

var ErrUnknownDevice = errors.New("unknown device")

// Getter fetches a JSON document; *request.Executor is one.
type Getter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// Registry is the device list of one account. It is owned by the client
// that issues device-list requests and handed to whoever needs it.
type Registry struct {
	getter Getter
	ttl    time.Duration
	cache  *ristretto.Cache

	// one refresh at a time
	mu sync.Mutex
}

func New(g Getter, ttl time.Duration) (*Registry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &Registry{getter: g, ttl: ttl, cache: cache}, nil
}

type listResponse struct {
	Devices []types.Device `json:"devices"`
}

// List returns the cached device list, fetching it when stale.
func (r *Registry) List(ctx context.Context) ([]types.Device, error) {
	if v, ok := r.cache.Get(listKey); ok {
		return v.([]types.Device), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// refreshed while waiting for the lock
	if v, ok := r.cache.Get(listKey); ok {
		return v.([]types.Device), nil
	}
	return r.refresh(ctx)
}

// Refresh fetches the device list regardless of the cache.
func (r *Registry) Refresh(ctx context.Context) ([]types.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh(ctx)
}

func (r *Registry) refresh(ctx context.Context) ([]types.Device, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("devices")

	var resp listResponse
	if err := r.getter.GetJSON(ctx, ListPath, &resp); err != nil {
		return nil, fmt.Errorf("devices: list: %w", err)
	}
	cost := int64(0)
	for _, d := range resp.Devices {
		cost += int64(len(d.SerialNumber) + len(d.AccountName) + len(d.DeviceType) + 64)
	}
	if !r.cache.SetWithTTL(listKey, resp.Devices, cost, r.ttl) {
		log.V(1).Info("Device list not cached (buffer full)")
	}
	r.cache.Wait()
	log.V(1).Info("Listed devices", "count", len(resp.Devices))
	return resp.Devices, nil
}

// Find returns the device whose serial number or name matches key, the
// name compared case-insensitively.
func (r *Registry) Find(ctx context.Context, key string) (types.Device, error) {
	list, err := r.List(ctx)
	if err != nil {
		return types.Device{}, err
	}
	for _, d := range list {
		if d.SerialNumber == key {
			return d, nil
		}
	}
	for _, d := range list {
		if strings.EqualFold(d.AccountName, key) {
			return d, nil
		}
	}
	return types.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, hlog.HideSerial(key))
}

// Invalidate drops the cached list.
func (r *Registry) Invalidate() {
	r.cache.Del(listKey)
}

func (r *Registry) Close() {
	r.cache.Close()
}
