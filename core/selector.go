package core

import (
	"fmt"

	"github.com/signalsfoundry/location-coordinator/model"
)

// ModuleResolver is the module-handle resolution service. kb.Catalog
// implements it.
type ModuleResolver interface {
	Resolve(h model.ModuleHandle) (model.ModuleDescriptor, bool)
}

// SelectMechanism decides the concrete mechanism used for a request of
// type requested on handle h. It has no side effects.
//
// GNSS modules always use GNSS whatever was requested. Cellular modules
// accept GNSS when a receiver is attached, and CLOUD_CELL_LOCATE; NONE
// picks GNSS when available and Cell Locate otherwise. Short-range
// modules with Wifi accept the Wifi cloud providers only. Bluetooth-only
// modules reject everything.
func SelectMechanism(r ModuleResolver, h model.ModuleHandle, requested model.LocationType) (model.LocationType, error) {
	mod, ok := r.Resolve(h)
	if !ok {
		return model.LocationTypeNone, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	if !requested.Valid() {
		return model.LocationTypeNone, fmt.Errorf("%w: %s", ErrInvalidType, requested)
	}

	reject := func() (model.LocationType, error) {
		return model.LocationTypeNone, fmt.Errorf("%w: %s on %s module %d", ErrInvalidType, requested, mod.Class, h)
	}

	switch mod.Class {
	case model.ModuleClassGNSS:
		return model.LocationTypeGNSS, nil

	case model.ModuleClassCellular:
		switch requested {
		case model.LocationTypeGNSS:
			if !mod.GNSSAttached {
				return reject()
			}
			return model.LocationTypeGNSS, nil
		case model.LocationTypeCloudCellLocate:
			return model.LocationTypeCloudCellLocate, nil
		case model.LocationTypeNone:
			if mod.GNSSAttached {
				return model.LocationTypeGNSS, nil
			}
			return model.LocationTypeCloudCellLocate, nil
		}
		return reject()

	case model.ModuleClassShortRange:
		if !mod.Wifi {
			return reject()
		}
		switch requested {
		case model.LocationTypeCloudGoogle, model.LocationTypeCloudSkyhook, model.LocationTypeCloudHere:
			return requested, nil
		}
		return reject()
	}

	return model.LocationTypeNone, fmt.Errorf("%w: module %d has class %s", ErrInvalidHandle, h, mod.Class)
}

// validateRequest runs every check that happens before the handle is
// claimed: mechanism selection, the auth token and the assist module.
func validateRequest(r ModuleResolver, req Request, defaults model.Assist) (model.LocationType, model.Assist, error) {
	mech, err := SelectMechanism(r, req.Handle, req.Type)
	if err != nil {
		return mech, model.Assist{}, err
	}

	if mech.IsCloud() && req.AuthToken == "" {
		return mech, model.Assist{}, fmt.Errorf("%w: %s on module %d", ErrMissingAuthToken, mech, req.Handle)
	}

	assist := defaults
	if req.Assist != nil {
		assist = *req.Assist
	}
	assist = assist.Normalize()

	if assist.AssistModule != model.NoModule && mech == model.LocationTypeCloudCellLocate {
		am, ok := r.Resolve(assist.AssistModule)
		if !ok || am.Class != model.ModuleClassShortRange || !am.Wifi {
			return mech, model.Assist{}, fmt.Errorf("%w: assist module %d is not a Wifi module", ErrInvalidHandle, assist.AssistModule)
		}
	}
	return mech, assist, nil
}
