package domain

import "fmt"

// AssetClass determines which oracle gateway serves an asset.
type AssetClass string

const (
	AssetClassCrypto     AssetClass = "crypto"
	AssetClassStellar    AssetClass = "stellar"
	AssetClassStablecoin AssetClass = "stable"
	AssetClassForex      AssetClass = "forex"
)

// AssetRef identifies a priced asset. Stellar-native assets are identified by
// their ledger address, everything else by ticker symbol.
type AssetRef struct {
	Class   AssetClass
	Symbol  string // ticker for crypto/stablecoin/forex assets
	Address string // ledger asset address for stellar-native assets
}

// CryptoAsset returns an AssetRef for an external crypto symbol.
func CryptoAsset(symbol string) AssetRef {
	return AssetRef{Class: AssetClassCrypto, Symbol: symbol}
}

// StellarAsset returns an AssetRef for a stellar-native ledger asset.
func StellarAsset(address string) AssetRef {
	return AssetRef{Class: AssetClassStellar, Address: address}
}

// StablecoinAsset returns an AssetRef for a stablecoin symbol.
func StablecoinAsset(symbol string) AssetRef {
	return AssetRef{Class: AssetClassStablecoin, Symbol: symbol}
}

// ForexAsset returns an AssetRef for a fiat currency symbol.
func ForexAsset(symbol string) AssetRef {
	return AssetRef{Class: AssetClassForex, Symbol: symbol}
}

// Key returns a stable identity string, e.g. "crypto:BTC" or "stellar:GA...".
// Price history records and feed messages are keyed by this value.
func (a AssetRef) Key() string {
	if a.Class == AssetClassStellar {
		return string(a.Class) + ":" + a.Address
	}
	return string(a.Class) + ":" + a.Symbol
}

// Validate checks that the reference is internally consistent.
func (a AssetRef) Validate() error {
	switch a.Class {
	case AssetClassStellar:
		if a.Address == "" {
			return fmt.Errorf("%w: stellar asset requires address", ErrValidation)
		}
	case AssetClassCrypto, AssetClassStablecoin, AssetClassForex:
		if a.Symbol == "" {
			return fmt.Errorf("%w: %s asset requires symbol", ErrValidation, a.Class)
		}
	default:
		return fmt.Errorf("%w: unknown asset class %q", ErrValidation, a.Class)
	}
	return nil
}

// ParseAssetKey parses the Key() form back into an AssetRef.
func ParseAssetKey(key string) (AssetRef, error) {
	for _, class := range []AssetClass{AssetClassCrypto, AssetClassStellar, AssetClassStablecoin, AssetClassForex} {
		prefix := string(class) + ":"
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			rest := key[len(prefix):]
			if class == AssetClassStellar {
				return AssetRef{Class: class, Address: rest}, nil
			}
			return AssetRef{Class: class, Symbol: rest}, nil
		}
	}
	return AssetRef{}, fmt.Errorf("%w: malformed asset key %q", ErrValidation, key)
}
