package testutils

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/srg/myoctl/internal/device"
	"github.com/srg/myoctl/internal/protocol"
)

// AdvertisementBuilder builds device.Advertisement values for tests.
type AdvertisementBuilder struct {
	adv device.Advertisement
}

// NewAdvertisementBuilder creates a connectable advertisement seen now with RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: device.Advertisement{
		RSSI:        -50,
		Connectable: true,
		SeenAt:      time.Now(),
	}}
}

// WithAddress sets the device address.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithName sets the local name and adds a Complete Local Name entry.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b.WithScanData(device.ADCompleteLocalName, []byte(name))
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

// WithScanData appends a raw scan data entry.
func (b *AdvertisementBuilder) WithScanData(adType uint8, payload []byte) *AdvertisementBuilder {
	return b.WithScanDataHex(adType, hex.EncodeToString(payload))
}

// WithScanDataHex appends a scan data entry with an already hex encoded payload.
func (b *AdvertisementBuilder) WithScanDataHex(adType uint8, payload string) *AdvertisementBuilder {
	b.adv.ScanData = append(b.adv.ScanData, device.ScanDataEntry{
		Type:    adType,
		Name:    device.ADTypeName(adType),
		Payload: payload,
	})
	return b
}

// WithMyoSignature adds the AD type 6 entry identifying a Myo armband.
func (b *AdvertisementBuilder) WithMyoSignature() *AdvertisementBuilder {
	return b.WithScanDataHex(protocol.SignatureADType, protocol.ServiceSignature)
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
//
//	{"address": "...", "name": "...", "rssi": -40, "scanData": [{"type": 6, "payload": "4248..."}]}
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Address  *string `json:"address"`
		Name     *string `json:"name"`
		RSSI     *int    `json:"rssi"`
		ScanData []struct {
			Type    uint8  `json:"type"`
			Payload string `json:"payload"`
		} `json:"scanData"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	for _, e := range data.ScanData {
		b.WithScanDataHex(e.Type, e.Payload)
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	out := b.adv
	out.ScanData = append([]device.ScanDataEntry(nil), b.adv.ScanData...)
	return out
}

// CreateMockAdvertisement returns a builder for a named device at address.
func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

// CreateMyoAdvertisement returns a builder for a Myo armband at address.
func CreateMyoAdvertisement(address string) *AdvertisementBuilder {
	return CreateMockAdvertisement("Myo", address, -45).WithMyoSignature()
}
