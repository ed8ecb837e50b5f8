package collateral

import "vesselchain/crypto"

var (
	paramsPrefix            = []byte("collateral/params/")
	assetIndexKey           = []byte("collateral/assets")
	whitelistPrefix         = []byte("collateral/whitelist/")
	whitelistEnforcedPrefix = []byte("collateral/whitelist-enforced/")
)

func paramsKey(asset string) []byte {
	normalized := NormalizeAsset(asset)
	buf := make([]byte, len(paramsPrefix)+len(normalized))
	copy(buf, paramsPrefix)
	copy(buf[len(paramsPrefix):], normalized)
	return buf
}

func whitelistKey(role Role, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(whitelistPrefix)+len(role)+1+len(raw))
	buf = append(buf, whitelistPrefix...)
	buf = append(buf, role...)
	buf = append(buf, '/')
	return append(buf, raw...)
}

func whitelistEnforcedKey(role Role) []byte {
	buf := make([]byte, 0, len(whitelistEnforcedPrefix)+len(role))
	buf = append(buf, whitelistEnforcedPrefix...)
	return append(buf, role...)
}
