// Package ble implements the bed.Transport interface on the host's
// Bluetooth adapter, via BlueZ on Linux.
//
// OKIN bed controllers are write-only GATT peripherals. Connecting
// means: find the advertisement, establish the link, then locate the
// command characteristic through a fallback chain - the OKIN vendor
// service first, the Nordic UART Service for clone boards, and finally
// the first characteristic of any service.
//
// The package also provides discovery: Scan returns nearby devices that
// advertise the OKIN service or whose names match the configured
// patterns (OKIN, Adjustable, Comfort, Luxe by default).
//
// BlueZ permits one active scan per adapter, so dials and scans are
// serialised internally. Everything else is safe for concurrent use.
package ble
