// Package errs defines the recoverable error kinds returned by ledger
// operations. Every kind leaves state unchanged; callers match them with
// errors.Is after the wrapping added at each call site.
package errs

import (
	"errors"

	"google.golang.org/grpc/codes"
)

var (
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidRiskCategory        = errors.New("invalid risk category")
	ErrInvalidTerm                = errors.New("invalid term")
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrInsufficientReserves       = errors.New("insufficient reserves")
	ErrCapacityExceeded           = errors.New("capacity exceeded")
	ErrUtilizationCeilingExceeded = errors.New("utilization ceiling exceeded")
	ErrNoRewardsAvailable         = errors.New("no rewards available")
	ErrPolicyNotFound             = errors.New("policy not found")
	ErrPolicyNotActive            = errors.New("policy not active")
	ErrPolicyExpired              = errors.New("policy expired")
	ErrNotPolicyHolder            = errors.New("not policy holder")
	ErrInsufficientPolicyBalance  = errors.New("insufficient policy balance")
	ErrDuplicateAttestation       = errors.New("duplicate attestation")
	ErrUnknownSource              = errors.New("unknown source")
	ErrSignatureInvalid           = errors.New("signature invalid")
	ErrClaimNotFound              = errors.New("claim not found")
	ErrClaimNotApproved           = errors.New("claim not approved")
	ErrAlreadyVoted               = errors.New("already voted")
	ErrProposalNotFound           = errors.New("proposal not found")
	ErrProposalNotActive          = errors.New("proposal not active")
	ErrProposalNotPassed          = errors.New("proposal not passed")
	ErrInsufficientProposalPower  = errors.New("insufficient proposal power")
	ErrAlreadyExecuted            = errors.New("already executed")
	ErrSettlementFailed           = errors.New("settlement failed")
	ErrUnauthorized               = errors.New("unauthorized")
)

var kinds = []error{
	ErrInvalidAmount,
	ErrInvalidRiskCategory,
	ErrInvalidTerm,
	ErrInvalidParameter,
	ErrInsufficientBalance,
	ErrInsufficientReserves,
	ErrCapacityExceeded,
	ErrUtilizationCeilingExceeded,
	ErrNoRewardsAvailable,
	ErrPolicyNotFound,
	ErrPolicyNotActive,
	ErrPolicyExpired,
	ErrNotPolicyHolder,
	ErrInsufficientPolicyBalance,
	ErrDuplicateAttestation,
	ErrUnknownSource,
	ErrSignatureInvalid,
	ErrClaimNotFound,
	ErrClaimNotApproved,
	ErrAlreadyVoted,
	ErrProposalNotFound,
	ErrProposalNotActive,
	ErrProposalNotPassed,
	ErrInsufficientProposalPower,
	ErrAlreadyExecuted,
	ErrSettlementFailed,
	ErrUnauthorized,
}

// Kind returns the taxonomy sentinel wrapped by err, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Label is a stable metric/log label for err ("invalid_amount", "internal").
func Label(err error) string {
	k := Kind(err)
	if k == nil {
		return "internal"
	}
	b := []byte(k.Error())
	for i, c := range b {
		if c == ' ' {
			b[i] = '_'
		}
	}
	return string(b)
}

// Code maps an error to the gRPC status code the transport reports.
func Code(err error) codes.Code {
	switch Kind(err) {
	case nil:
		if err == nil {
			return codes.OK
		}
		return codes.Internal
	case ErrPolicyNotFound, ErrClaimNotFound, ErrProposalNotFound:
		return codes.NotFound
	case ErrUnauthorized, ErrNotPolicyHolder, ErrSignatureInvalid, ErrUnknownSource:
		return codes.PermissionDenied
	case ErrDuplicateAttestation, ErrAlreadyVoted, ErrAlreadyExecuted:
		return codes.AlreadyExists
	case ErrInvalidAmount, ErrInvalidRiskCategory, ErrInvalidTerm, ErrInvalidParameter:
		return codes.InvalidArgument
	case ErrSettlementFailed:
		return codes.Aborted
	default:
		return codes.FailedPrecondition
	}
}
