package factory

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"forwardnet/core/events"
	"forwardnet/native/common"
	"forwardnet/native/market"
	"forwardnet/native/token"
)

var (
	ErrNotInitialized      = errors.New("market factory: not initialized")
	ErrAlreadyInitialized  = errors.New("market factory: already initialized")
	ErrNotOwner            = errors.New("market factory: caller is not the owner")
	ErrNotAuthorized       = errors.New("market factory: caller is not owner or guardian")
	ErrPaused              = errors.New("market factory: paused")
	ErrDuplicateMarket     = errors.New("market factory: market already deployed for these economics")
	ErrCodeNotConfigured   = errors.New("market factory: deployable code not configured")
	ErrInsufficientFunding = errors.New("market factory: funding below provisioning cost")
	ErrUnknownDeployment   = errors.New("market factory: unknown deployment")
	ErrUnknownMarket       = errors.New("market factory: unknown market")
	ErrUnknownStage        = errors.New("market factory: unknown chain stage")
)

// Storage abstracts the subset of state manager functionality required by the
// factory.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Provisioner creates the hosted accounts a deployment needs. Calls run
// inside the scheduled chain step for their stage.
type Provisioner interface {
	CreateLedger(id string, meta token.Metadata) error
	CreateMarket(cfg market.Config) error
}

// Chain schedules one provisioning stage as a later runtime step.
type Chain interface {
	ScheduleStep(factory string, deployID uint64, stage string) error
}

// Engine is the deployment orchestrator: it owns the registry of deployed
// markets, computes dedupe keys, and drives the create-long, create-short,
// create-market, register chain. The existence check and chain launch run
// inside one atomic step, so two deployments for the same key cannot race on
// a single-threaded factory instance.
type Engine struct {
	id          string
	state       Storage
	provisioner Provisioner
	chain       Chain
	emitter     events.Emitter
	nowFn       func() int64
}

// NewEngine creates a factory shell for the given instance id with a no-op
// emitter and a wall-clock time source.
func NewEngine(id string) *Engine {
	return &Engine{
		id:      strings.TrimSpace(id),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the persistent store.
func (f *Engine) SetState(state Storage) { f.state = state }

// SetProvisioner wires the account creator.
func (f *Engine) SetProvisioner(p Provisioner) { f.provisioner = p }

// SetChain wires the step scheduler.
func (f *Engine) SetChain(chain Chain) { f.chain = chain }

// SetEmitter overrides the event emitter. Passing nil restores the no-op
// emitter.
func (f *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetNowFunc overrides the clock used for record timestamps and parameter
// validation.
func (f *Engine) SetNowFunc(now func() int64) {
	if now != nil {
		f.nowFn = now
	}
}

// ID returns the instance identifier.
func (f *Engine) ID() string { return f.id }

func (f *Engine) ownerKey() []byte     { return []byte("factory/" + f.id + "/owner") }
func (f *Engine) guardianKey() []byte  { return []byte("factory/" + f.id + "/guardian") }
func (f *Engine) oracleKey() []byte    { return []byte("factory/" + f.id + "/oracle") }
func (f *Engine) collectorKey() []byte { return []byte("factory/" + f.id + "/collector") }
func (f *Engine) pausedKey() []byte    { return []byte("factory/" + f.id + "/paused") }
func (f *Engine) counterKey() []byte   { return []byte("factory/" + f.id + "/counter") }
func (f *Engine) costKey() []byte      { return []byte("factory/" + f.id + "/cost") }
func (f *Engine) codeKey(kind string) []byte {
	return []byte("factory/" + f.id + "/code/" + kind)
}
func (f *Engine) marketKey(key string) []byte {
	return []byte("factory/" + f.id + "/market/" + key)
}
func (f *Engine) allKeysKey() []byte { return []byte("factory/" + f.id + "/keys") }
func (f *Engine) creatorKey(creator string) []byte {
	return []byte("factory/" + f.id + "/creator/" + creator)
}
func (f *Engine) deployKey(id uint64) []byte {
	return []byte(fmt.Sprintf("factory/%s/deploy/%d", f.id, id))
}

// InitConfig is the one-time wiring of the orchestrator.
type InitConfig struct {
	Owner            string
	Guardian         string
	Oracle           string
	FeeCollector     string
	ProvisioningCost *big.Int
}

// Initialize writes the owner, collaborator references, and the fixed
// per-account provisioning cost exactly once.
func (f *Engine) Initialize(cfg InitConfig) error {
	if f.state == nil {
		return ErrNotInitialized
	}
	exists, err := f.state.KVGet(f.ownerKey(), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	cost := cfg.ProvisioningCost
	if cost == nil || cost.Sign() < 0 {
		cost = big.NewInt(0)
	}
	if err := f.state.KVPut(f.ownerKey(), strings.TrimSpace(cfg.Owner)); err != nil {
		return err
	}
	if err := f.state.KVPut(f.guardianKey(), strings.TrimSpace(cfg.Guardian)); err != nil {
		return err
	}
	if err := f.state.KVPut(f.oracleKey(), strings.TrimSpace(cfg.Oracle)); err != nil {
		return err
	}
	if err := f.state.KVPut(f.collectorKey(), strings.TrimSpace(cfg.FeeCollector)); err != nil {
		return err
	}
	if err := f.state.KVPut(f.costKey(), cost); err != nil {
		return err
	}
	return f.state.KVPut(f.counterKey(), uint64(0))
}

func (f *Engine) stringAt(key []byte) (string, error) {
	var value string
	ok, err := f.state.KVGet(key, &value)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return value, nil
}

func (f *Engine) owner() (string, error)    { return f.stringAt(f.ownerKey()) }
func (f *Engine) guardian() (string, error) { return f.stringAt(f.guardianKey()) }

// Owner returns the current owner account.
func (f *Engine) Owner() (string, error) {
	if f.state == nil {
		return "", ErrNotInitialized
	}
	return f.owner()
}

func (f *Engine) requireOwner(caller string) error {
	owner, err := f.owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}

func (f *Engine) paused() (bool, error) {
	var paused bool
	ok, err := f.state.KVGet(f.pausedKey(), &paused)
	if err != nil {
		return false, err
	}
	return ok && paused, nil
}

// SetPaused toggles deployments. Owner or guardian only.
func (f *Engine) SetPaused(caller string, paused bool) error {
	if f.state == nil {
		return ErrNotInitialized
	}
	owner, err := f.owner()
	if err != nil {
		return err
	}
	guardian, err := f.guardian()
	if err != nil {
		return err
	}
	if caller != owner && (guardian == "" || caller != guardian) {
		return ErrNotAuthorized
	}
	return f.state.KVPut(f.pausedKey(), paused)
}

// SetCodeBlob installs or swaps the deployable code for one account kind.
// Owner only. The blob is opaque to the orchestrator.
func (f *Engine) SetCodeBlob(caller, kind string, blob []byte) error {
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if kind != CodeMarket && kind != CodeLong && kind != CodeShort {
		return fmt.Errorf("market factory: unknown code kind %q", kind)
	}
	if len(blob) == 0 {
		return fmt.Errorf("market factory: empty code blob")
	}
	return f.state.KVPut(f.codeKey(kind), blob)
}

// CodeBlob returns the configured blob for a kind, if any.
func (f *Engine) CodeBlob(kind string) ([]byte, bool, error) {
	if f.state == nil {
		return nil, false, ErrNotInitialized
	}
	var blob []byte
	ok, err := f.state.KVGet(f.codeKey(kind), &blob)
	if err != nil || !ok {
		return nil, false, err
	}
	return blob, true, nil
}

// SetOracle repoints the oracle reference for future markets. Owner only.
func (f *Engine) SetOracle(caller, oracle string) error {
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	return f.state.KVPut(f.oracleKey(), strings.TrimSpace(oracle))
}

// SetFeeCollector repoints the fee collector reference. Owner only.
func (f *Engine) SetFeeCollector(caller, collector string) error {
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	return f.state.KVPut(f.collectorKey(), strings.TrimSpace(collector))
}

// SetGuardian replaces the guardian. Owner only.
func (f *Engine) SetGuardian(caller, guardian string) error {
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	return f.state.KVPut(f.guardianKey(), strings.TrimSpace(guardian))
}

// TransferOwnership hands the factory to a new owner. Owner only.
func (f *Engine) TransferOwnership(caller, next string) error {
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	next = strings.TrimSpace(next)
	if next == "" {
		return fmt.Errorf("market factory: new owner required")
	}
	return f.state.KVPut(f.ownerKey(), next)
}

// SetProvisioningCost updates the fixed per-account funding requirement.
// Owner only.
func (f *Engine) SetProvisioningCost(caller string, cost *big.Int) error {
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if cost == nil || cost.Sign() < 0 {
		return fmt.Errorf("market factory: %w", common.ErrAmountInvalid)
	}
	return f.state.KVPut(f.costKey(), cost)
}

// ProvisioningCost returns the per-account funding requirement.
func (f *Engine) ProvisioningCost() (*big.Int, error) {
	if f.state == nil {
		return nil, ErrNotInitialized
	}
	cost := new(big.Int)
	ok, err := f.state.KVGet(f.costKey(), cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cost, nil
}

func (f *Engine) counter() (uint64, error) {
	var counter uint64
	ok, err := f.state.KVGet(f.counterKey(), &counter)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialized
	}
	return counter, nil
}

// DeployMarket validates the request, reserves a fresh deployment id, and
// launches the provisioning chain. The monotonic counter advances for every
// launched chain and is never reused, so a retry after a stalled deployment
// gets fresh account ids. Returns the deployment id.
func (f *Engine) DeployMarket(caller string, params market.Params, funding *big.Int) (uint64, error) {
	if f.state == nil {
		return 0, ErrNotInitialized
	}
	if f.chain == nil {
		return 0, fmt.Errorf("market factory: chain not configured")
	}
	paused, err := f.paused()
	if err != nil {
		return 0, err
	}
	if paused {
		return 0, ErrPaused
	}
	for _, kind := range []string{CodeMarket, CodeLong, CodeShort} {
		if _, ok, err := f.CodeBlob(kind); err != nil {
			return 0, err
		} else if !ok {
			return 0, fmt.Errorf("%w: %s", ErrCodeNotConfigured, kind)
		}
	}
	cost, err := f.ProvisioningCost()
	if err != nil {
		return 0, err
	}
	required := new(big.Int).Mul(cost, big.NewInt(3))
	if required.Sign() > 0 && (funding == nil || funding.Cmp(required) < 0) {
		return 0, ErrInsufficientFunding
	}
	params = params.Normalize()
	if err := params.Validate(f.nowFn()); err != nil {
		return 0, err
	}
	key := params.Key()
	if _, ok, err := f.MarketByKey(key); err != nil {
		return 0, err
	} else if ok {
		return 0, ErrDuplicateMarket
	}

	counter, err := f.counter()
	if err != nil {
		return 0, err
	}
	deployID := counter + 1
	if err := f.state.KVPut(f.counterKey(), deployID); err != nil {
		return 0, err
	}

	now := f.nowFn()
	record := storedRecord{
		ID:        deployID,
		Key:       key,
		Creator:   strings.TrimSpace(caller),
		Params:    packParams(params),
		MarketID:  fmt.Sprintf("market-%d.%s", deployID, f.id),
		LongID:    fmt.Sprintf("long-%d.%s", deployID, f.id),
		ShortID:   fmt.Sprintf("short-%d.%s", deployID, f.id),
		Status:    StatusInFlight,
		CreatedAt: uint64(now),
		UpdatedAt: uint64(now),
	}
	if err := f.state.KVPut(f.deployKey(deployID), &record); err != nil {
		return 0, err
	}
	f.emitter.Emit(events.DeploymentStarted{
		ID:       deployID,
		Key:      key,
		Creator:  record.Creator,
		MarketID: record.MarketID,
		LongID:   record.LongID,
		ShortID:  record.ShortID,
	})
	if err := f.chain.ScheduleStep(f.id, deployID, StageCreateLong); err != nil {
		return 0, err
	}
	return deployID, nil
}

func (f *Engine) loadRecord(deployID uint64) (*storedRecord, error) {
	record := &storedRecord{}
	ok, err := f.state.KVGet(f.deployKey(deployID), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownDeployment
	}
	return record, nil
}

// ExecuteStep runs one scheduled stage of a provisioning chain. It performs
// the stage's account creation through the provisioner, records the outcome,
// and schedules the successor; a failed stage marks the record stalled and
// leaves any already-created accounts orphaned but discoverable.
func (f *Engine) ExecuteStep(deployID uint64, stage string) error {
	if f.state == nil {
		return ErrNotInitialized
	}
	if f.provisioner == nil {
		return fmt.Errorf("market factory: provisioner not configured")
	}
	record, err := f.loadRecord(deployID)
	if err != nil {
		return err
	}
	if record.Status != StatusInFlight {
		return nil
	}

	var stepErr error
	switch stage {
	case StageCreateLong:
		stepErr = f.provisioner.CreateLedger(record.LongID, claimMetadata("FWDL", deployID, record.MarketID))
	case StageCreateShort:
		stepErr = f.provisioner.CreateLedger(record.ShortID, claimMetadata("FWDS", deployID, record.MarketID))
	case StageCreateMarket:
		oracle, err := f.stringAt(f.oracleKey())
		if err != nil {
			return err
		}
		collector, err := f.stringAt(f.collectorKey())
		if err != nil {
			return err
		}
		owner, err := f.owner()
		if err != nil {
			return err
		}
		guardian, err := f.guardian()
		if err != nil {
			return err
		}
		stepErr = f.provisioner.CreateMarket(market.Config{
			ID:           record.MarketID,
			Params:       unpackParams(record.Params),
			Owner:        owner,
			Guardian:     guardian,
			LongLedger:   record.LongID,
			ShortLedger:  record.ShortID,
			Oracle:       oracle,
			FeeCollector: collector,
		})
	case StageRegister:
		return f.onMarketDeployed(record)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	if settleErr := f.OnStepSettled(deployID, stage, stepErr == nil); settleErr != nil {
		return settleErr
	}
	return stepErr
}

// OnStepSettled advances the deployment cursor past a settled stage. On
// success the next stage is scheduled; on failure the record is marked
// stalled and the chain stops, leaving whatever accounts the completed
// stages created unregistered.
func (f *Engine) OnStepSettled(deployID uint64, stage string, ok bool) error {
	if f.state == nil {
		return ErrNotInitialized
	}
	record, err := f.loadRecord(deployID)
	if err != nil {
		return err
	}
	if record.Status != StatusInFlight {
		return nil
	}
	record.UpdatedAt = uint64(f.nowFn())
	f.emitter.Emit(events.DeploymentStep{ID: deployID, Step: stage, OK: ok})
	if !ok {
		record.Status = StatusStalled
		if err := f.state.KVPut(f.deployKey(deployID), record); err != nil {
			return err
		}
		f.emitter.Emit(events.DeploymentStalled{ID: deployID, Step: stage})
		return nil
	}
	record.Cursor = stage
	if err := f.state.KVPut(f.deployKey(deployID), record); err != nil {
		return err
	}
	if next := nextStage(stage); next != "" {
		return f.chain.ScheduleStep(f.id, deployID, next)
	}
	return nil
}

// onMarketDeployed is the final reconciliation stage: it registers the
// MarketInfo under the dedupe key and indexes it. Reached only when every
// provisioning stage settled successfully, so no second dedupe check runs
// here.
func (f *Engine) onMarketDeployed(record *storedRecord) error {
	info := storedInfo{
		Key:       record.Key,
		MarketID:  record.MarketID,
		LongID:    record.LongID,
		ShortID:   record.ShortID,
		Params:    record.Params,
		CreatedAt: uint64(f.nowFn()),
		Creator:   record.Creator,
	}
	if err := f.state.KVPut(f.marketKey(record.Key), &info); err != nil {
		return err
	}
	if err := f.state.KVAppend(f.allKeysKey(), []byte(record.Key)); err != nil {
		return err
	}
	if record.Creator != "" {
		if err := f.state.KVAppend(f.creatorKey(record.Creator), []byte(record.Key)); err != nil {
			return err
		}
	}
	record.Cursor = StageRegister
	record.Status = StatusComplete
	record.UpdatedAt = uint64(f.nowFn())
	if err := f.state.KVPut(f.deployKey(record.ID), record); err != nil {
		return err
	}
	f.emitter.Emit(events.DeploymentStep{ID: record.ID, Step: StageRegister, OK: true})
	f.emitter.Emit(events.MarketDeployed{ID: record.ID, Key: record.Key, MarketID: record.MarketID, Creator: record.Creator})
	return nil
}

func claimMetadata(symbolPrefix string, deployID uint64, marketID string) token.Metadata {
	return token.Metadata{
		Symbol:    fmt.Sprintf("%s-%d", symbolPrefix, deployID),
		Name:      fmt.Sprintf("%s claim %d", symbolPrefix, deployID),
		Decimals:  24,
		Authority: marketID,
	}
}

func infoFromStored(stored storedInfo) MarketInfo {
	return MarketInfo{
		Key:       stored.Key,
		MarketID:  stored.MarketID,
		LongID:    stored.LongID,
		ShortID:   stored.ShortID,
		Params:    unpackParams(stored.Params),
		CreatedAt: int64(stored.CreatedAt),
		Creator:   stored.Creator,
	}
}

// MarketByKey returns the registered market for a dedupe key, if any.
func (f *Engine) MarketByKey(key string) (MarketInfo, bool, error) {
	if f.state == nil {
		return MarketInfo{}, false, ErrNotInitialized
	}
	var stored storedInfo
	ok, err := f.state.KVGet(f.marketKey(key), &stored)
	if err != nil || !ok {
		return MarketInfo{}, false, err
	}
	return infoFromStored(stored), true, nil
}

// MarketByParams re-derives the dedupe key and looks the market up.
func (f *Engine) MarketByParams(params market.Params) (MarketInfo, bool, error) {
	return f.MarketByKey(params.Normalize().Key())
}

// MarketsByCreator returns the markets a creator registered, in registration
// order.
func (f *Engine) MarketsByCreator(creator string) ([]MarketInfo, error) {
	if f.state == nil {
		return nil, ErrNotInitialized
	}
	var keys [][]byte
	if err := f.state.KVGetList(f.creatorKey(strings.TrimSpace(creator)), &keys); err != nil {
		return nil, err
	}
	return f.marketsForKeys(keys)
}

// Markets returns a page of registered markets over the ordered key index.
func (f *Engine) Markets(skip, take int) ([]MarketInfo, error) {
	if f.state == nil {
		return nil, ErrNotInitialized
	}
	if skip < 0 {
		skip = 0
	}
	var keys [][]byte
	if err := f.state.KVGetList(f.allKeysKey(), &keys); err != nil {
		return nil, err
	}
	if skip >= len(keys) {
		return []MarketInfo{}, nil
	}
	keys = keys[skip:]
	if take > 0 && take < len(keys) {
		keys = keys[:take]
	}
	return f.marketsForKeys(keys)
}

func (f *Engine) marketsForKeys(keys [][]byte) ([]MarketInfo, error) {
	markets := make([]MarketInfo, 0, len(keys))
	for _, key := range keys {
		info, ok, err := f.MarketByKey(string(key))
		if err != nil {
			return nil, err
		}
		if ok {
			markets = append(markets, info)
		}
	}
	return markets, nil
}

// MarketCount returns the number of registered markets.
func (f *Engine) MarketCount() (int, error) {
	if f.state == nil {
		return 0, ErrNotInitialized
	}
	var keys [][]byte
	if err := f.state.KVGetList(f.allKeysKey(), &keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Deployment returns the saga record for a deployment id.
func (f *Engine) Deployment(deployID uint64) (DeploymentRecord, bool, error) {
	if f.state == nil {
		return DeploymentRecord{}, false, ErrNotInitialized
	}
	record := &storedRecord{}
	ok, err := f.state.KVGet(f.deployKey(deployID), record)
	if err != nil || !ok {
		return DeploymentRecord{}, false, err
	}
	return recordFromStored(record), true, nil
}

// Deployments returns every saga record matching status; an empty status
// matches all. Records come back in deployment order.
func (f *Engine) Deployments(status string) ([]DeploymentRecord, error) {
	if f.state == nil {
		return nil, ErrNotInitialized
	}
	counter, err := f.counter()
	if err != nil {
		return nil, err
	}
	records := make([]DeploymentRecord, 0)
	for id := uint64(1); id <= counter; id++ {
		record, ok, err := f.Deployment(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if status == "" || record.Status == status {
			records = append(records, record)
		}
	}
	return records, nil
}

func recordFromStored(record *storedRecord) DeploymentRecord {
	return DeploymentRecord{
		ID:        record.ID,
		Key:       record.Key,
		Creator:   record.Creator,
		Params:    unpackParams(record.Params),
		MarketID:  record.MarketID,
		LongID:    record.LongID,
		ShortID:   record.ShortID,
		Cursor:    record.Cursor,
		Status:    record.Status,
		CreatedAt: int64(record.CreatedAt),
		UpdatedAt: int64(record.UpdatedAt),
	}
}
