package bed

import (
	"fmt"
	"sort"
)

// Command names accepted by the codec. These are the wire-facing
// identifiers used by the API, the MQTT bridge, and movement holds.
const (
	// Position control
	CmdHeadUp     = "head_up"
	CmdHeadDown   = "head_down"
	CmdLumbarUp   = "lumbar_up"
	CmdLumbarDown = "lumbar_down"
	CmdFootUp     = "foot_up"
	CmdFootDown   = "foot_down"
	CmdStop       = "stop"

	// Presets
	CmdFlat        = "flat"
	CmdZeroGravity = "zero_gravity"
	CmdLounge      = "lounge"
	CmdAntiSnore   = "anti_snore"
	CmdAscent      = "ascent"

	// Massage
	CmdMassageOn    = "massage_on"
	CmdMassageOff   = "massage_off"
	CmdMassageWave1 = "massage_wave_1"
	CmdMassageWave2 = "massage_wave_2"
	CmdMassageWave3 = "massage_wave_3"

	// Lighting
	CmdLightOn        = "light_on"
	CmdLightOff       = "light_off"
	CmdLightToggle    = "light_toggle"
	CmdBrightnessUp   = "brightness_up"
	CmdBrightnessDown = "brightness_down"
)

// commandTable maps command names to the single-byte frames the OKIN
// controller accepts on its write characteristic.
var commandTable = map[string][]byte{
	CmdHeadUp:     {0x00},
	CmdHeadDown:   {0x01},
	CmdLumbarUp:   {0x02},
	CmdLumbarDown: {0x03},
	CmdFootUp:     {0x04},
	CmdFootDown:   {0x05},
	CmdStop:       {0x06},

	CmdFlat:        {0x10},
	CmdZeroGravity: {0x11},
	CmdLounge:      {0x12},
	CmdAntiSnore:   {0x13},
	CmdAscent:      {0x14},

	CmdMassageOn:    {0x20},
	CmdMassageOff:   {0x21},
	CmdMassageWave1: {0x22},
	CmdMassageWave2: {0x23},
	CmdMassageWave3: {0x24},

	CmdLightOn:        {0x30},
	CmdLightOff:       {0x31},
	CmdLightToggle:    {0x32},
	CmdBrightnessUp:   {0x33},
	CmdBrightnessDown: {0x34},
}

// holdableCommands are the movements that may be repeated on a timer to
// emulate press-and-hold. Presets, massage and lighting are one-shot.
var holdableCommands = map[string]struct{}{
	CmdHeadUp:     {},
	CmdHeadDown:   {},
	CmdLumbarUp:   {},
	CmdLumbarDown: {},
	CmdFootUp:     {},
	CmdFootDown:   {},
}

// LookupCommand resolves a command name to its wire payload.
//
// The returned slice is a copy; callers may modify it freely.
// Returns ErrUnknownCommand for names without a codec entry - callers
// must not attempt any I/O in that case.
func LookupCommand(name string) ([]byte, error) {
	payload, ok := commandTable[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Commands returns all known command names, sorted alphabetically.
func Commands() []string {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsHoldable reports whether a command may be used as a continuous
// press-and-hold movement.
func IsHoldable(name string) bool {
	_, ok := holdableCommands[name]
	return ok
}
