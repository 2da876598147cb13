package lorawan

// DefaultDevAddr takes the last four bytes of the DevEUI.
func DefaultDevAddr(devEUI EUI64) DevAddr {
	var addr DevAddr
	copy(addr[:], devEUI[4:])
	return addr
}

// DefaultAppKey repeats the DevEUI twice. Anyone who knows the DevEUI knows
// this key, so it is only a provisioning convenience and must be overridden
// for real deployments.
func DefaultAppKey(devEUI EUI64) AES128Key {
	var key AES128Key
	copy(key[:8], devEUI[:])
	copy(key[8:], devEUI[:])
	return key
}
