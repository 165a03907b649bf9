package main

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/ingestion"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/persistence"
	"sync"
)

// toPersistence converts an engine output to row form.
func toPersistence(out core.Output) persistence.CoreOutput {
	env := out.Envelope
	seq := env.Sequence

	row := persistence.CoreOutput{
		Command: persistence.CommandRow{
			Sequence:  seq,
			RequestID: env.RequestID,
			Kind:      env.Kind.String(),
			Payload:   env.Payload,
			Result:    env.Result,
			StateHash: append([]byte(nil), env.StateHash[:]...),
			PrevHash:  append([]byte(nil), env.PrevHash[:]...),
			AppliedAt: env.Timestamp,
		},
	}

	for _, b := range out.Batches {
		for _, j := range b.Journals {
			row.Journals = append(row.Journals, persistence.JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}

	for _, r := range out.Records {
		row.Records = append(row.Records, persistence.RecordRow{
			Kind:     r.Kind,
			ID:       r.ID,
			Data:     r.Data,
			Sequence: seq,
		})
	}

	for _, t := range out.Triggers {
		row.Triggers = append(row.Triggers, persistence.TriggerRow{
			Sequence:    seq,
			Utilization: t.Utilization,
			Threshold:   t.Threshold,
			Capital:     t.Capital,
			Exposure:    t.Exposure,
			RaisedAt:    t.At,
		})
	}
	return row
}

// bridge fans engine outputs out to the persistence worker and the outbound
// publisher. The persist path blocks so the engine feels backpressure; the
// publish path drops when full. Each output channel closes once its input
// closes, letting the consumers flush and exit.
type bridge struct {
	persistIn  <-chan core.Output
	persistOut chan<- persistence.CoreOutput

	// Both nil when NATS is off
	outboundIn <-chan core.Output
	publishOut chan<- ingestion.PublishableEvent

	metrics *observability.Metrics
}

func (b *bridge) Run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(b.persistOut)
		for out := range b.persistIn {
			b.persistOut <- toPersistence(out)
			if b.metrics != nil {
				b.metrics.SetChannelMetrics("persist", len(b.persistIn), cap(b.persistIn))
			}
		}
	}()
	if b.outboundIn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(b.publishOut)
			for out := range b.outboundIn {
				for _, evt := range ingestion.EventsFromOutput(out) {
					select {
					case b.publishOut <- evt:
					default:
					}
				}
			}
		}()
	}
	wg.Wait()
}
