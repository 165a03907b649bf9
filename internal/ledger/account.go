package ledger

import (
	"fmt"
	"strings"
)

// Principal is an opaque actor identity (address-like). The ledger never
// interprets its structure; it is only compared and hashed.
type Principal string

func (p Principal) String() string { return string(p) }

// Valid reports whether p can be used as a map key in the ledger.
// Principals must be non-empty and free of the ':' path separator.
func (p Principal) Valid() bool {
	return p != "" && !strings.Contains(string(p), ":")
}

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeShares AccountSubType = iota
	SubTypeRewards
	SubTypeVotes

	// System sub-types
	SubTypeSystemPoolCapital
	SubTypeSystemShareSupply
	SubTypeSystemRewardPool
	SubTypeSystemReserveFund
	SubTypeSystemTreasury
	SubTypeSystemTokenSupply

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalPremiums
	SubTypeExternalPayouts
	SubTypeExternalRewardPayouts
)

// AssetID maps asset strings to numeric IDs
type AssetID uint16

const (
	AssetStable AssetID = 1 // settlement currency
	AssetShare  AssetID = 2 // pool shares
	AssetGov    AssetID = 3 // governance token
)

var (
	assetToID = map[string]AssetID{
		"USD":   AssetStable,
		"SHARE": AssetShare,
		"GOV":   AssetGov,
	}
	idToAsset = map[AssetID]string{
		AssetStable: "USD",
		AssetShare:  "SHARE",
		AssetGov:    "GOV",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// System account owners
const (
	SystemPool     Principal = "pool"
	SystemTreasury Principal = "treasury"
	SystemToken    Principal = "gov"
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Owner   Principal
	SubType AccountSubType
	AssetID AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(owner Principal, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   owner,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(owner Principal, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Owner:   owner,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AllowsNegative reports whether the account is an issuance or boundary
// account whose balance mirrors value held elsewhere.
func (k AccountKey) AllowsNegative() bool {
	if k.Scope == AccountScopeExternal {
		return true
	}
	return k.Scope == AccountScopeSystem &&
		(k.SubType == SubTypeSystemShareSupply || k.SubType == SubTypeSystemTokenSupply)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner, k.SubType.Name(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.Owner, k.SubType.Name(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType.Name(), assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	var (
		key  AccountKey
		sub  string
		name string
	)

	switch {
	case len(parts) == 4 && parts[0] == "user":
		key.Scope = AccountScopeUser
		key.Owner = Principal(parts[1])
		sub, name = parts[2], parts[3]
	case len(parts) == 4 && parts[0] == "system":
		key.Scope = AccountScopeSystem
		key.Owner = Principal(parts[1])
		sub, name = parts[2], parts[3]
	case len(parts) == 3 && parts[0] == "external":
		key.Scope = AccountScopeExternal
		sub, name = parts[1], parts[2]
	default:
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	st, ok := subTypeByName[sub]
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown sub-type %q in %q", sub, path)
	}
	asset, ok := GetAssetID(name)
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset %q in %q", name, path)
	}

	key.SubType = st
	key.AssetID = asset
	return key, nil
}

var subTypeNames = map[AccountSubType]string{
	SubTypeShares:                "shares",
	SubTypeRewards:               "rewards",
	SubTypeVotes:                 "votes",
	SubTypeSystemPoolCapital:     "capital",
	SubTypeSystemShareSupply:     "share_supply",
	SubTypeSystemRewardPool:      "reward_pool",
	SubTypeSystemReserveFund:     "reserve_fund",
	SubTypeSystemTreasury:        "treasury",
	SubTypeSystemTokenSupply:     "token_supply",
	SubTypeExternalDeposits:      "deposits",
	SubTypeExternalWithdrawals:   "withdrawals",
	SubTypeExternalPremiums:      "premiums",
	SubTypeExternalPayouts:       "payouts",
	SubTypeExternalRewardPayouts: "reward_payouts",
}

var subTypeByName = func() map[string]AccountSubType {
	m := make(map[string]AccountSubType, len(subTypeNames))
	for k, v := range subTypeNames {
		m[v] = k
	}
	return m
}()

// Name returns the path segment for the sub-type.
func (s AccountSubType) Name() string {
	if n, ok := subTypeNames[s]; ok {
		return n
	}
	return "unknown"
}
