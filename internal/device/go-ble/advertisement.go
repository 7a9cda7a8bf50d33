package goble

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/myoctl/internal/device"
)

// rawAdvertisement is implemented by backends that keep the undecoded
// advertising payloads (the Linux HCI backend does).
type rawAdvertisement interface {
	Data() []byte
	ScanResponse() []byte
}

// txPowerUnset is what go-ble reports when no Tx Power structure was advertised.
const txPowerUnset = 127

// NewAdvertisement converts a go-ble advertisement into a device.Advertisement.
func NewAdvertisement(adv ble.Advertisement, seenAt time.Time) device.Advertisement {
	out := device.Advertisement{
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		SeenAt:      seenAt,
	}
	if addr := adv.Addr(); addr != nil {
		out.Address = strings.ToUpper(addr.String())
	}

	if raw, ok := adv.(rawAdvertisement); ok {
		out.ScanData = append(device.ParseScanData(raw.Data()), device.ParseScanData(raw.ScanResponse())...)
	}
	if len(out.ScanData) == 0 {
		out.ScanData = synthesizeScanData(adv)
	}
	return out
}

// synthesizeScanData rebuilds scan data entries from decoded advertisement
// fields. go-ble merges complete and incomplete service lists, so every
// 128-bit list is reported as ADIncomplete128BitServices.
func synthesizeScanData(adv ble.Advertisement) []device.ScanDataEntry {
	var entries []device.ScanDataEntry
	add := func(code uint8, payload []byte) {
		entries = append(entries, device.ScanDataEntry{
			Type:    code,
			Name:    device.ADTypeName(code),
			Payload: hex.EncodeToString(payload),
		})
	}

	var s16, s32, s128 []byte
	for _, u := range adv.Services() {
		switch u.Len() {
		case 2:
			s16 = append(s16, u...)
		case 4:
			s32 = append(s32, u...)
		case 16:
			s128 = append(s128, u...)
		}
	}
	if len(s16) > 0 {
		add(device.ADComplete16BitServices, s16)
	}
	if len(s32) > 0 {
		add(device.ADComplete32BitServices, s32)
	}
	if len(s128) > 0 {
		add(device.ADIncomplete128BitServices, s128)
	}

	if name := adv.LocalName(); name != "" {
		add(device.ADCompleteLocalName, []byte(name))
	}
	if tx := adv.TxPowerLevel(); tx != txPowerUnset {
		add(device.ADTxPower, []byte{byte(int8(tx))})
	}
	for _, sd := range adv.ServiceData() {
		if sd.UUID.Len() == 2 {
			add(device.ADServiceData16Bit, append(append([]byte{}, sd.UUID...), sd.Data...))
		}
	}
	if md := adv.ManufacturerData(); len(md) > 0 {
		add(device.ADManufacturerData, md)
	}
	return entries
}
