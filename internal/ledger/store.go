package ledger

import "fmt"

// Store bundles the balance tracker, journal generator and invariant
// validator into the account store shared by every component. Posted
// batches are applied immediately and buffered until the owning command
// drains them for persistence.
type Store struct {
	tracker   *BalanceTracker
	generator *JournalGenerator
	validator *InvariantValidator
	pending   []*Batch
}

func NewStore() *Store {
	tracker := NewBalanceTracker()
	return &Store{
		tracker:   tracker,
		generator: NewJournalGenerator(0, tracker),
		validator: NewInvariantValidator(tracker),
	}
}

func (s *Store) Balances() *BalanceTracker      { return s.tracker }
func (s *Store) Journals() *JournalGenerator    { return s.generator }
func (s *Store) Validator() *InvariantValidator { return s.validator }

// Begin starts a new command. Batches left over from a previous command
// that was never drained are discarded.
func (s *Store) Begin(eventRef string, sequence, timestamp int64) {
	s.generator.Begin(eventRef, sequence, timestamp)
	s.pending = s.pending[:0]
}

// Post applies a generated batch. A nil batch with a nil error is a no-op.
func (s *Store) Post(batch *Batch, err error) error {
	if err != nil {
		return err
	}
	if batch == nil || len(batch.Journals) == 0 {
		return nil
	}
	if err := s.tracker.ApplyBatch(batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	s.pending = append(s.pending, batch)
	return nil
}

// Drain returns and clears the batches posted since Begin.
func (s *Store) Drain() []*Batch {
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]*Batch, len(s.pending))
	copy(out, s.pending)
	s.pending = s.pending[:0]
	return out
}
