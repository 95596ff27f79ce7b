package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"forwardnet/core/events"
	"forwardnet/native/common"
)

var (
	ErrNotInitialized     = errors.New("oracle router: not initialized")
	ErrAlreadyInitialized = errors.New("oracle router: already initialized")
	ErrNotOwner           = errors.New("oracle router: caller is not the owner")
	ErrPaused             = errors.New("oracle router: paused")
	ErrPairNotConfigured  = errors.New("oracle router: pair not configured")
	ErrSourceNotAllowed   = errors.New("oracle router: source not authorized")
	ErrRateLimited        = errors.New("oracle router: source posting too fast")
	ErrFutureTimestamp    = errors.New("oracle router: timestamp in the future")
	ErrDeviationTooLarge  = errors.New("oracle router: price deviates beyond configured bound")
	ErrStalenessRequired  = errors.New("oracle router: max staleness must be positive")
)

// PairConfig bounds the observations accepted and served for one asset pair.
// TwapWindow widens GetPrice to a mean over recent points; zero serves the
// latest point only. Durations are in seconds.
type PairConfig struct {
	TwapWindow      int64
	MaxStaleness    int64
	MaxDeviationBps uint32
}

// PricePoint is one accepted observation.
type PricePoint struct {
	Price     *big.Int
	Timestamp int64
	Source    string
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (p *PricePoint) Copy() *PricePoint {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Price != nil {
		clone.Price = new(big.Int).Set(p.Price)
	}
	return &clone
}

// Storage abstracts the subset of state manager functionality required by the
// router.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Router caches authorized price observations per pair and serves them only
// while fresh. It never reaches out to external feeds itself; sources push
// observations in and markets ask for the cached value.
type Router struct {
	id        string
	state     Storage
	emitter   events.Emitter
	nowFn     func() int64
	postEvery rate.Limit
	postBurst int
	limiters  map[string]*rate.Limiter
}

// NewRouter creates a router shell for the given instance id. Sources may post
// at most one observation per second with small bursts until overridden via
// SetPostRate.
func NewRouter(id string) *Router {
	return &Router{
		id:        strings.TrimSpace(id),
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		postEvery: rate.Limit(1),
		postBurst: 5,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SetState wires the persistent store.
func (r *Router) SetState(state Storage) { r.state = state }

// SetEmitter overrides the event emitter. Passing nil restores the no-op
// emitter.
func (r *Router) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the clock used for staleness checks.
func (r *Router) SetNowFunc(now func() int64) {
	if now != nil {
		r.nowFn = now
	}
}

// SetPostRate adjusts the per-source posting limiter.
func (r *Router) SetPostRate(every rate.Limit, burst int) {
	r.postEvery = every
	r.postBurst = burst
	r.limiters = make(map[string]*rate.Limiter)
}

// ID returns the instance identifier.
func (r *Router) ID() string { return r.id }

// PairKey canonicalises an asset pair into the router's cache key.
func PairKey(underlying, quote string) string {
	return strings.TrimSpace(underlying) + ":" + strings.TrimSpace(quote)
}

func (r *Router) ownerKey() []byte  { return []byte("oracle/" + r.id + "/owner") }
func (r *Router) pausedKey() []byte { return []byte("oracle/" + r.id + "/paused") }
func (r *Router) configKey(pair string) []byte {
	return []byte("oracle/" + r.id + "/config/" + pair)
}
func (r *Router) historyKey(pair string) []byte {
	return []byte("oracle/" + r.id + "/history/" + pair)
}
func (r *Router) sourceKey(source string) []byte {
	return []byte("oracle/" + r.id + "/source/" + source)
}

type storedConfig struct {
	TwapWindow      uint64
	MaxStaleness    uint64
	MaxDeviationBps uint32
}

type storedPoint struct {
	Price     *big.Int
	Timestamp uint64
	Source    string
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > uint64(1)<<62 {
		return 0, fmt.Errorf("oracle router: timestamp %d out of range", v)
	}
	return int64(v), nil
}

// Initialize writes the owner exactly once.
func (r *Router) Initialize(owner string) error {
	if r.state == nil {
		return ErrNotInitialized
	}
	exists, err := r.state.KVGet(r.ownerKey(), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	return r.state.KVPut(r.ownerKey(), strings.TrimSpace(owner))
}

func (r *Router) owner() (string, error) {
	var owner string
	ok, err := r.state.KVGet(r.ownerKey(), &owner)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return owner, nil
}

func (r *Router) requireOwner(caller string) error {
	owner, err := r.owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}

func (r *Router) paused() (bool, error) {
	var paused bool
	ok, err := r.state.KVGet(r.pausedKey(), &paused)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return paused, nil
}

// SetPaused toggles the router. Owner only.
func (r *Router) SetPaused(caller string, paused bool) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	return r.state.KVPut(r.pausedKey(), paused)
}

// SetPairConfig installs or replaces the config for a pair. Owner only.
func (r *Router) SetPairConfig(caller, underlying, quote string, cfg PairConfig) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	if cfg.MaxStaleness <= 0 {
		return ErrStalenessRequired
	}
	if cfg.TwapWindow < 0 {
		return fmt.Errorf("oracle router: twap window must not be negative")
	}
	stored := storedConfig{
		TwapWindow:      uint64(cfg.TwapWindow),
		MaxStaleness:    uint64(cfg.MaxStaleness),
		MaxDeviationBps: cfg.MaxDeviationBps,
	}
	return r.state.KVPut(r.configKey(PairKey(underlying, quote)), &stored)
}

// Config returns the configuration for a pair when present.
func (r *Router) Config(underlying, quote string) (PairConfig, bool, error) {
	if r.state == nil {
		return PairConfig{}, false, ErrNotInitialized
	}
	var stored storedConfig
	ok, err := r.state.KVGet(r.configKey(PairKey(underlying, quote)), &stored)
	if err != nil || !ok {
		return PairConfig{}, false, err
	}
	window, err := uint64ToInt64(stored.TwapWindow)
	if err != nil {
		return PairConfig{}, false, err
	}
	staleness, err := uint64ToInt64(stored.MaxStaleness)
	if err != nil {
		return PairConfig{}, false, err
	}
	return PairConfig{TwapWindow: window, MaxStaleness: staleness, MaxDeviationBps: stored.MaxDeviationBps}, true, nil
}

// AuthorizeSource allows an account to post observations. Owner only.
func (r *Router) AuthorizeSource(caller, source string) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	return r.state.KVPut(r.sourceKey(strings.TrimSpace(source)), true)
}

// RevokeSource removes a source's posting permission. Owner only.
func (r *Router) RevokeSource(caller, source string) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	return r.state.KVPut(r.sourceKey(strings.TrimSpace(source)), false)
}

func (r *Router) sourceAllowed(source string) (bool, error) {
	var allowed bool
	ok, err := r.state.KVGet(r.sourceKey(source), &allowed)
	if err != nil {
		return false, err
	}
	return ok && allowed, nil
}

func (r *Router) limiter(source string) *rate.Limiter {
	if lim, ok := r.limiters[source]; ok {
		return lim
	}
	lim := rate.NewLimiter(r.postEvery, r.postBurst)
	r.limiters[source] = lim
	return lim
}

func (r *Router) loadHistory(pair string) ([]storedPoint, error) {
	var history []storedPoint
	ok, err := r.state.KVGet(r.historyKey(pair), &history)
	if err != nil || !ok {
		return nil, err
	}
	return history, nil
}

// PostPrice accepts an observation from an authorized source. Observations
// deviating from the last fresh point beyond the configured bound are
// rejected; once the cache itself is stale any price is accepted so a halted
// feed can restart.
func (r *Router) PostPrice(caller, underlying, quote string, price *big.Int, timestamp int64) error {
	if r.state == nil {
		return ErrNotInitialized
	}
	paused, err := r.paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	allowed, err := r.sourceAllowed(caller)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrSourceNotAllowed
	}
	pair := PairKey(underlying, quote)
	cfg, ok, err := r.Config(underlying, quote)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPairNotConfigured
	}
	if err := common.ValidateAmount(price); err != nil {
		return fmt.Errorf("oracle router: %w", err)
	}
	now := r.nowFn()
	if timestamp <= 0 {
		return fmt.Errorf("oracle router: timestamp must be positive")
	}
	if timestamp > now {
		return ErrFutureTimestamp
	}
	if !r.limiter(caller).Allow() {
		return ErrRateLimited
	}

	history, err := r.loadHistory(pair)
	if err != nil {
		return err
	}
	if len(history) > 0 && cfg.MaxDeviationBps > 0 {
		last := history[len(history)-1]
		lastTs, err := uint64ToInt64(last.Timestamp)
		if err != nil {
			return err
		}
		if now-lastTs <= cfg.MaxStaleness && last.Price != nil && last.Price.Sign() > 0 {
			diff := new(big.Int).Sub(price, last.Price)
			diff.Abs(diff)
			bound := common.FeeOnAmount(last.Price, cfg.MaxDeviationBps)
			if diff.Cmp(bound) > 0 {
				return ErrDeviationTooLarge
			}
		}
	}

	point := storedPoint{Price: new(big.Int).Set(price), Timestamp: uint64(timestamp), Source: caller}
	history = append(history, point)
	history = pruneHistory(history, now, cfg)
	if err := r.state.KVPut(r.historyKey(pair), history); err != nil {
		return err
	}
	r.emitter.Emit(events.PricePosted{Pair: pair, Price: new(big.Int).Set(price), Source: caller, Timestamp: timestamp})
	return nil
}

// pruneHistory drops points that no staleness or TWAP window can ever serve
// again, keeping the newest point unconditionally.
func pruneHistory(history []storedPoint, now int64, cfg PairConfig) []storedPoint {
	horizon := cfg.MaxStaleness
	if cfg.TwapWindow > horizon {
		horizon = cfg.TwapWindow
	}
	kept := history[:0]
	for i, point := range history {
		ts, err := uint64ToInt64(point.Timestamp)
		if err != nil {
			continue
		}
		if i == len(history)-1 || now-ts <= horizon {
			kept = append(kept, point)
		}
	}
	return kept
}

// GetPrice serves the cached observation for a pair, reporting absence when
// the pair is unconfigured or the cache is stale. When a TWAP window is
// configured the price is the mean over the window's observations.
func (r *Router) GetPrice(underlying, quote string) (*PricePoint, bool, error) {
	if r.state == nil {
		return nil, false, ErrNotInitialized
	}
	paused, err := r.paused()
	if err != nil {
		return nil, false, err
	}
	if paused {
		return nil, false, ErrPaused
	}
	pair := PairKey(underlying, quote)
	cfg, ok, err := r.Config(underlying, quote)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := r.loadHistory(pair)
	if err != nil {
		return nil, false, err
	}
	if len(history) == 0 {
		return nil, false, nil
	}
	latest := history[len(history)-1]
	latestTs, err := uint64ToInt64(latest.Timestamp)
	if err != nil {
		return nil, false, err
	}
	now := r.nowFn()
	if now-latestTs > cfg.MaxStaleness {
		return nil, false, nil
	}
	point := &PricePoint{Price: new(big.Int).Set(latest.Price), Timestamp: latestTs, Source: latest.Source}
	if cfg.TwapWindow <= 0 {
		return point, true, nil
	}

	sum := new(big.Int)
	count := int64(0)
	for _, observation := range history {
		ts, err := uint64ToInt64(observation.Timestamp)
		if err != nil {
			continue
		}
		if now-ts > cfg.TwapWindow || observation.Price == nil {
			continue
		}
		sum.Add(sum, observation.Price)
		count++
	}
	if count == 0 {
		return point, true, nil
	}
	point.Price = sum.Div(sum, big.NewInt(count))
	return point, true, nil
}

// LatestPoint returns the newest raw observation regardless of freshness.
func (r *Router) LatestPoint(underlying, quote string) (*PricePoint, bool, error) {
	if r.state == nil {
		return nil, false, ErrNotInitialized
	}
	history, err := r.loadHistory(PairKey(underlying, quote))
	if err != nil {
		return nil, false, err
	}
	if len(history) == 0 {
		return nil, false, nil
	}
	latest := history[len(history)-1]
	ts, err := uint64ToInt64(latest.Timestamp)
	if err != nil {
		return nil, false, err
	}
	return &PricePoint{Price: new(big.Int).Set(latest.Price), Timestamp: ts, Source: latest.Source}, true, nil
}
