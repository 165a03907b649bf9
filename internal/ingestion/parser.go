package ingestion

import (
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	fpmath "MutualLedger/internal/math"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	attestationPrefix = "mutual.oracle.attestations."
	commandPrefix     = "mutual.commands."
)

// Wire fields that may arrive as decimal strings ("1000.50") or durations
// ("720h"). Numbers pass through as already-scaled integers.
var (
	amountFields   = []string{"amount", "amount_insured", "quantity"}
	durationFields = []string{"term", "extra_term"}
)

// ResolveKind maps a NATS subject to the command kind it carries.
func ResolveKind(subject string) (event.Kind, error) {
	switch {
	case strings.HasPrefix(subject, attestationPrefix):
		return event.KindSubmitAttestation, nil
	case strings.HasPrefix(subject, commandPrefix):
		name, _, _ := strings.Cut(strings.TrimPrefix(subject, commandPrefix), ".")
		k, ok := event.ParseKind(name)
		if !ok {
			return event.KindUnknown, fmt.Errorf("%w: unknown command kind %q", errs.ErrInvalidParameter, name)
		}
		return k, nil
	default:
		return event.KindUnknown, fmt.Errorf("%w: unrouted subject %q", errs.ErrInvalidParameter, subject)
	}
}

// ParseRawEvent decodes a NATS message into a command. For attestations the
// topic defaults to the subject suffix.
func ParseRawEvent(raw RawEvent) (event.Command, error) {
	kind, err := ResolveKind(raw.Subject)
	if err != nil {
		return nil, err
	}
	cmd, err := ParseCommand(kind, raw.Data)
	if err != nil {
		return nil, err
	}
	if att, ok := cmd.(*event.SubmitAttestation); ok && att.Topic == "" {
		att.Topic = strings.TrimPrefix(raw.Subject, attestationPrefix)
	}
	return cmd, nil
}

// ParseCommand validates and decodes a JSON command of the given kind.
// request_id must be a UUID.
func ParseCommand(kind event.Kind, data []byte) (event.Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", errs.ErrInvalidParameter, kind, err)
	}

	var rid string
	if err := json.Unmarshal(fields["request_id"], &rid); err != nil || rid == "" {
		return nil, fmt.Errorf("%w: %s: missing request_id", errs.ErrInvalidParameter, kind)
	}
	id, err := uuid.Parse(rid)
	if err != nil {
		return nil, fmt.Errorf("%w: parse request_id: %v", errs.ErrInvalidParameter, err)
	}
	fields["request_id"] = mustRaw(id.String())

	for _, name := range amountFields {
		if err := normalizeAmount(fields, name); err != nil {
			return nil, err
		}
	}
	for _, name := range durationFields {
		if err := normalizeDuration(fields, name); err != nil {
			return nil, err
		}
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	cmd, err := event.Decode(kind, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidParameter, err)
	}
	return cmd, nil
}

func normalizeAmount(fields map[string]json.RawMessage, name string) error {
	var s string
	raw, ok := fields[name]
	if !ok || json.Unmarshal(raw, &s) != nil {
		return nil // absent or numeric
	}
	v, err := fpmath.ParseAmount(s, fpmath.AmountConfig)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrInvalidAmount, name, err)
	}
	fields[name] = mustRaw(v)
	return nil
}

func normalizeDuration(fields map[string]json.RawMessage, name string) error {
	var s string
	raw, ok := fields[name]
	if !ok || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrInvalidTerm, name, err)
	}
	fields[name] = mustRaw(int64(d))
	return nil
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
