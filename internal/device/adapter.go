// Package device executes parsed commands against a device channel, either
// a persisted simulation or a live transport, and renders the fixed reply
// taxonomy of spec §4.4.
package device

import (
	"context"
	"fmt"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// NAK reason codes, exhaustive per spec §4.4.
const (
	NAKReadOnly          = "ReadOnly"
	NAKUnknownParam       = "UnknownParam"
	NAKOutOfRange         = "OutOfRange"
	NAKDeviceDown         = "DeviceDown"
	NAKDeviceComm         = "DeviceComm"
	NAKDeviceBadResponse  = "DeviceBadResponse"
	NAKDeviceRejected     = "DeviceRejected"
	NAKUnknownDevice      = "UnknownDevice"
	NAKMappingMissing     = "MappingMissing"
	NAKParseError         = "ParseError"
)

// NAKZBC and NAKUltimate render the channel-specific reason codes for a ZBC
// hex code or an Ultimate code, per spec §4.4. LiveAdapter does not produce
// them: it maps a Transport error only to the generic device NAKs.
func NAKZBC(hex string) string      { return "ZBC_" + hex }
func NAKUltimate(code string) string { return "Ultimate_" + code }

// Adapter executes one parsed command on a device channel.
type Adapter interface {
	Execute(ctx context.Context, cmd model.ParsedCommand) (reply string, err error)
}

// readOnlyTypes are PTYPEs that never accept a write, in every mode.
// Grounded on device_bridge.py's READONLY_TYPES.
var readOnlyTypes = map[string]bool{
	"TTE": true, "TTW": true, "LSE": true, "LSW": true, "MAE": true, "MAW": true,
}

// ReplyRead renders a successful read.
func ReplyRead(pkey, value string) string { return fmt.Sprintf("%s=%s", pkey, value) }

// ReplyAck renders a successful write.
func ReplyAck(pkey, value string) string { return fmt.Sprintf("ACK_%s=%s", pkey, value) }

// ReplyNAK renders a failure.
func ReplyNAK(pkey, reason string) string { return fmt.Sprintf("%s=NAK_%s", pkey, reason) }

// CheckReadOnly returns a NAK reply and true if cmd is a write against a
// read-only PTYPE. Must be checked before the simulation/live branch, per
// spec §4.4.
func CheckReadOnly(cmd model.ParsedCommand) (reply string, isReadOnly bool) {
	if cmd.IsRead() {
		return "", false
	}
	if readOnlyTypes[cmd.Ptype] {
		return ReplyNAK(cmd.Pkey, NAKReadOnly), true
	}
	return "", false
}
