package model

import (
	"fmt"
	"strings"
)

// ModuleHandle identifies a communication-module instance. The coordinator
// never owns the module; it only resolves the handle through a catalog.
type ModuleHandle int32

// NoModule is the sentinel handle meaning "no module".
const NoModule ModuleHandle = -1

// ModuleClass indicates what kind of communication module a handle names.
type ModuleClass int

const (
	ModuleClassUnknown    ModuleClass = iota
	ModuleClassGNSS                   // satellite-positioning receiver attached directly
	ModuleClassCellular               // cellular module, optionally with a GNSS chip behind it
	ModuleClassShortRange             // short-range radio (Wifi and/or BLE)
)

var moduleClassNames = map[ModuleClass]string{
	ModuleClassUnknown:    "unknown",
	ModuleClassGNSS:       "gnss",
	ModuleClassCellular:   "cellular",
	ModuleClassShortRange: "short-range",
}

func (c ModuleClass) String() string {
	if name, ok := moduleClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ModuleClass(%d)", int(c))
}

// ParseModuleClass maps a configuration string onto a ModuleClass.
func ParseModuleClass(s string) (ModuleClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gnss":
		return ModuleClassGNSS, nil
	case "cellular", "cell":
		return ModuleClassCellular, nil
	case "short-range", "short_range", "shortrange", "wifi", "ble":
		return ModuleClassShortRange, nil
	default:
		return ModuleClassUnknown, fmt.Errorf("unknown module class %q", s)
	}
}

// ModuleDescriptor describes a module instance as seen by the resolution
// service.
type ModuleDescriptor struct {
	Handle ModuleHandle
	Name   string
	Class  ModuleClass

	// GNSSAttached is meaningful for cellular modules: a GNSS chip is
	// reachable through the cellular module.
	GNSSAttached bool

	// Wifi is meaningful for short-range modules. A short-range module
	// without Wifi is Bluetooth-only and supports no location type.
	Wifi bool
}

// BluetoothOnly reports whether the module is a short-range radio with no
// Wifi capability.
func (d ModuleDescriptor) BluetoothOnly() bool {
	return d.Class == ModuleClassShortRange && !d.Wifi
}
