package device

import (
	"encoding/hex"
	"fmt"
)

// Advertising data type codes (Bluetooth Assigned Numbers, "Common Data Types").
const (
	ADFlags                    uint8 = 0x01
	ADIncomplete16BitServices  uint8 = 0x02
	ADComplete16BitServices    uint8 = 0x03
	ADIncomplete32BitServices  uint8 = 0x04
	ADComplete32BitServices    uint8 = 0x05
	ADIncomplete128BitServices uint8 = 0x06
	ADComplete128BitServices   uint8 = 0x07
	ADShortLocalName           uint8 = 0x08
	ADCompleteLocalName        uint8 = 0x09
	ADTxPower                  uint8 = 0x0a
	ADSolicited16BitServices   uint8 = 0x14
	ADSolicited128BitServices  uint8 = 0x15
	ADServiceData16Bit         uint8 = 0x16
	ADAppearance               uint8 = 0x19
	ADManufacturerData         uint8 = 0xff
)

var adTypeNames = map[uint8]string{
	ADFlags:                    "Flags",
	ADIncomplete16BitServices:  "Incomplete 16b Services",
	ADComplete16BitServices:    "Complete 16b Services",
	ADIncomplete32BitServices:  "Incomplete 32b Services",
	ADComplete32BitServices:    "Complete 32b Services",
	ADIncomplete128BitServices: "Incomplete 128b Services",
	ADComplete128BitServices:   "Complete 128b Services",
	ADShortLocalName:           "Short Local Name",
	ADCompleteLocalName:        "Complete Local Name",
	ADTxPower:                  "Tx Power",
	ADSolicited16BitServices:   "16b Service Solicitation",
	ADSolicited128BitServices:  "128b Service Solicitation",
	ADServiceData16Bit:         "16b Service Data",
	ADAppearance:               "Appearance",
	ADManufacturerData:         "Manufacturer",
}

// ADTypeName returns the description of an advertising data type code.
func ADTypeName(code uint8) string {
	if name, ok := adTypeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", code)
}

// ParseScanData splits raw advertising or scan response data into its
// length-type-value structures. A truncated trailing structure is dropped.
func ParseScanData(raw []byte) []ScanDataEntry {
	var entries []ScanDataEntry
	for len(raw) > 0 {
		n := int(raw[0])
		if n == 0 || n >= len(raw) {
			break
		}
		code := raw[1]
		entries = append(entries, ScanDataEntry{
			Type:    code,
			Name:    ADTypeName(code),
			Payload: hex.EncodeToString(raw[2 : n+1]),
		})
		raw = raw[n+1:]
	}
	return entries
}
