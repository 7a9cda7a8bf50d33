package protocol

import "strings"

// Advertisement data carrying the device service signature.
const (
	SignatureADType = 0x06 // Incomplete List of 128-bit Service UUIDs
	// ServiceSignature is the control service UUID d5060001-a904-deb9-4748-2c7f4a124842 in wire order.
	ServiceSignature = "4248124a7f2c4847b9de04a9010006d5"
)

// IsSignature reports whether an advertisement data entry identifies the device.
func IsSignature(adType uint8, hexPayload string) bool {
	return adType == SignatureADType && strings.EqualFold(hexPayload, ServiceSignature)
}

// NormalizeAddress returns the canonical upper-case form of a device address.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// SameAddress compares two device addresses ignoring case.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
