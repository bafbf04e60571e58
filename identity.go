package error_telemetry

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// deviceIDKey is the storage key the device identifier is persisted
// under, across all tiers.
const deviceIDKey = "error_telemetry_device_id"

// IdentityProvider produces the two identifiers every record carries: a
// stable per-device id persisted outside the record, and a fresh
// per-event id.
type IdentityProvider struct {
	env     Environment
	durable Store
	cookie  Store
	session Store
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	cached string
}

// NewIdentityProvider creates an identity provider over the given
// persistence tiers. Any tier may be nil.
func NewIdentityProvider(env Environment, durable, cookie, session Store, logger *zap.Logger) *IdentityProvider {
	return &IdentityProvider{
		env:     env,
		durable: durable,
		cookie:  cookie,
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// EventID returns a fresh random identifier, UUID-v4 shaped when the
// secure random source cooperates. The fallback is a timestamp+random
// scheme with weaker collision resistance.
func (ip *IdentityProvider) EventID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		ip.logger.Warn("secure random source unavailable, using fallback event id", zap.Error(err))
		return fmt.Sprintf("evt-%x-%06x", ip.now().UnixNano(), rand.Intn(1<<24))
	}
	return id.String()
}

// DeviceID returns the persisted device identifier, creating and
// persisting one on first use. With respectDNT set and the environment
// signalling do-not-track, persistence is downgraded to the session
// tier so the id does not survive a restart. Persistence failures are
// swallowed; the caller always gets an id.
func (ip *IdentityProvider) DeviceID(respectDNT bool) string {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	if ip.cached != "" {
		return ip.cached
	}

	for _, store := range []Store{ip.durable, ip.cookie, ip.session} {
		if store == nil {
			continue
		}
		if v, ok := store.Get(deviceIDKey); ok && v != "" {
			ip.cached = v
			return v
		}
	}

	id := ip.generateDeviceID()

	target := ip.persistenceTarget(respectDNT)
	if target != nil {
		if err := target.Set(deviceIDKey, id); err != nil {
			ip.logger.Debug("device id persistence failed", zap.Error(err))
		}
	}

	ip.cached = id
	return id
}

func (ip *IdentityProvider) generateDeviceID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("device-%x-%06x", ip.now().UnixNano(), rand.Intn(1<<24))
	}
	return "device-" + id.String()
}

// persistenceTarget picks the strongest available tier, or the session
// tier when the do-not-track downgrade applies.
func (ip *IdentityProvider) persistenceTarget(respectDNT bool) Store {
	if respectDNT && ip.env != nil && ip.env.DoNotTrack() {
		return ip.session
	}
	for _, store := range []Store{ip.durable, ip.cookie, ip.session} {
		if store != nil {
			return store
		}
	}
	return nil
}
