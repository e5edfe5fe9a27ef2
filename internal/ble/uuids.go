package ble

import "tinygo.org/x/bluetooth"

// OKIN controllers expose a vendor service with a single write
// characteristic. Clone boards ship the Nordic UART Service instead, so
// discovery falls back to NUS, then to the first characteristic found.
var (
	// okinServiceUUID is the vendor control service on genuine OKIN boards.
	okinServiceUUID = mustParseUUID("62741523-52f9-8864-b1ab-3b3a8d65950b")

	// okinWriteUUID is the command characteristic inside the OKIN service.
	okinWriteUUID = mustParseUUID("62741525-52f9-8864-b1ab-3b3a8d65950b")

	// nusServiceUUID is the Nordic UART Service used by clone controllers.
	nusServiceUUID = mustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")

	// nusWriteUUID is the NUS RX characteristic (host writes, device reads).
	nusWriteUUID = mustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
)

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic("ble: bad uuid literal: " + s)
	}
	return uuid
}
