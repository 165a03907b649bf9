package ingestion

import (
	"MutualLedger/internal/observability"
	"sync"
)

// SeqVerdict classifies a stream sequence against what the consumer expected.
type SeqVerdict int

const (
	SeqInOrder SeqVerdict = iota
	SeqGap                // accepted; earlier messages were skipped or purged
	SeqStale              // at or below the last seen sequence; a redelivery
	SeqUnknown            // no stream metadata
)

// SequenceTracker follows JetStream stream sequences per consumer. Gaps are
// tolerated since request-id dedup in the engine makes ordering advisory.
type SequenceTracker struct {
	mu      sync.Mutex
	last    map[string]uint64 // consumer -> last seen stream sequence
	gaps    map[string]int64
	metrics *observability.Metrics
}

func NewSequenceTracker(metrics *observability.Metrics) *SequenceTracker {
	return &SequenceTracker{
		last:    make(map[string]uint64),
		gaps:    make(map[string]int64),
		metrics: metrics,
	}
}

// Observe records seq for consumer and reports how it relates to the
// previous message.
func (st *SequenceTracker) Observe(consumer string, seq uint64) SeqVerdict {
	if seq == 0 {
		return SeqUnknown
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	last, seen := st.last[consumer]
	if seen && seq <= last {
		return SeqStale
	}
	st.last[consumer] = seq

	if seen && seq > last+1 {
		st.gaps[consumer]++
		if st.metrics != nil {
			st.metrics.IngestSequenceGaps.WithLabelValues(consumer).Inc()
		}
		return SeqGap
	}
	return SeqInOrder
}

// Last returns the last sequence seen for consumer.
func (st *SequenceTracker) Last(consumer string) uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last[consumer]
}

func (st *SequenceTracker) Gaps(consumer string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gaps[consumer]
}
