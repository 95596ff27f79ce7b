package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"forwardnet/observability"
)

var (
	// ErrJournalCorrupted is returned when a persisted step fails its
	// checksum on load. The runtime refuses to execute such a step.
	ErrJournalCorrupted = errors.New("runtime: journal entry failed checksum")
)

// Step kinds. Every asynchronous effect in the system is one of these,
// executed strictly in enqueue order.
const (
	kindTransfer     = "transfer"
	kindDeliver      = "deliver"
	kindMint         = "mint"
	kindBurn         = "burn"
	kindPay          = "pay"
	kindRecordFee    = "record_fee"
	kindPriceRequest = "price_request"
	kindPriceResult  = "price_result"
	kindDeploy       = "deploy"
)

// step is one journaled unit of work. A single field set covers every kind;
// unused fields stay at their zero values. The checksum covers the RLP
// encoding of everything else, so a torn or tampered entry is detected before
// it executes.
type step struct {
	ID         string
	Kind       string
	Instance   string
	Ledger     string
	From       string
	To         string
	Account    string
	Amount     *big.Int
	Tag        string
	Underlying string
	Quote      string
	DeployID   uint64
	Stage      string
	OK         bool
	Sum        []byte
}

func (s *step) normalize() {
	if s.Amount == nil {
		s.Amount = big.NewInt(0)
	}
}

func (s *step) checksum() ([]byte, error) {
	body := *s
	body.Sum = nil
	encoded, err := rlp.EncodeToBytes(&body)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(encoded)
	return sum[:], nil
}

func (s *step) seal() error {
	s.normalize()
	s.ID = uuid.NewString()
	sum, err := s.checksum()
	if err != nil {
		return err
	}
	s.Sum = sum
	return nil
}

func (s *step) verify() error {
	sum, err := s.checksum()
	if err != nil {
		return err
	}
	if !bytes.Equal(sum, s.Sum) {
		return fmt.Errorf("%w: step %s", ErrJournalCorrupted, s.ID)
	}
	return nil
}

func queueHeadKey() []byte { return []byte("runtime/queue/head") }
func queueTailKey() []byte { return []byte("runtime/queue/tail") }
func queueItemKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("runtime/queue/item/%d", seq))
}

func (r *Runtime) queueBounds() (head, tail uint64, err error) {
	if _, err = r.state.KVGet(queueHeadKey(), &head); err != nil {
		return 0, 0, err
	}
	if _, err = r.state.KVGet(queueTailKey(), &tail); err != nil {
		return 0, 0, err
	}
	return head, tail, nil
}

// enqueue seals the step and appends it to the persisted queue.
func (r *Runtime) enqueue(s step) error {
	if err := s.seal(); err != nil {
		return err
	}
	head, tail, err := r.queueBounds()
	if err != nil {
		return err
	}
	seq := tail + 1
	if err := r.state.KVPut(queueItemKey(seq), &s); err != nil {
		return err
	}
	if err := r.state.KVPut(queueTailKey(), seq); err != nil {
		return err
	}
	observability.RuntimeMetrics().SetQueueDepth(seq - head)
	return nil
}

// dequeue pops the oldest step, verifying its checksum. It reports false when
// the queue is empty. The entry is removed before execution; a step runs at
// most once.
func (r *Runtime) dequeue() (step, bool, error) {
	head, tail, err := r.queueBounds()
	if err != nil {
		return step{}, false, err
	}
	if head >= tail {
		return step{}, false, nil
	}
	seq := head + 1
	var s step
	ok, err := r.state.KVGet(queueItemKey(seq), &s)
	if err != nil {
		return step{}, false, err
	}
	if !ok {
		return step{}, false, fmt.Errorf("%w: missing entry %d", ErrJournalCorrupted, seq)
	}
	if err := s.verify(); err != nil {
		observability.RuntimeMetrics().RecordJournalCorruption()
		return step{}, false, err
	}
	if err := r.state.KVDelete(queueItemKey(seq)); err != nil {
		return step{}, false, err
	}
	if err := r.state.KVPut(queueHeadKey(), seq); err != nil {
		return step{}, false, err
	}
	observability.RuntimeMetrics().SetQueueDepth(tail - seq)
	return s, true, nil
}

// QueueDepth reports the number of journaled steps awaiting execution.
func (r *Runtime) QueueDepth() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head, tail, err := r.queueBounds()
	if err != nil {
		return 0, err
	}
	return tail - head, nil
}
