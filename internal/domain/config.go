package domain

// GuardConfig is the one-time engine configuration singleton. Initialization
// happens exactly once; a second attempt is a state error.
type GuardConfig struct {
	Admin        string // base58 admin account
	FeeRecipient string // base58 account credited with protocol fees
	Network      string // "mainnet" or "testnet"
}
