package types

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/model"
)

// ErrInvalidRequest marks a payload that cannot be mapped onto the domain model.
var ErrInvalidRequest = errors.New("invalid request")

//
// Payload field names shared by the server and clients.
//

const (
	FieldHandle         = "handle"
	FieldType           = "type"
	FieldAuthToken      = "auth_token"
	FieldAssist         = "assist"
	FieldTimeoutSeconds = "timeout_seconds"
	FieldStatus         = "status"
	FieldLocation       = "location"
	FieldModules        = "modules"
	FieldFound          = "found"

	FieldDesiredAccuracyMm = "desired_accuracy_mm"
	FieldDesiredTimeoutS   = "desired_timeout_s"
	FieldAssistModule      = "assist_module"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// int32Field reads an integral number field. ok is false when the field is absent.
func int32Field(s *structpb.Struct, name string) (v int32, ok bool, err error) {
	f, present := s.GetFields()[name]
	if !present {
		return 0, false, nil
	}
	n, isNum := f.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, true, invalid("%s must be a number", name)
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue < math.MinInt32 || n.NumberValue > math.MaxInt32 {
		return 0, true, invalid("%s must be a 32-bit integer", name)
	}
	return int32(n.NumberValue), true, nil
}

func stringField(s *structpb.Struct, name string) (string, error) {
	f, present := s.GetFields()[name]
	if !present {
		return "", nil
	}
	str, ok := f.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalid("%s must be a string", name)
	}
	return str.StringValue, nil
}

// HandleFromStruct reads the required module handle.
func HandleFromStruct(s *structpb.Struct) (model.ModuleHandle, error) {
	h, ok, err := int32Field(s, FieldHandle)
	if err != nil {
		return model.NoModule, err
	}
	if !ok {
		return model.NoModule, invalid("%s is required", FieldHandle)
	}
	return model.ModuleHandle(h), nil
}

// TimeoutSecondsFromStruct reads the optional timeout_seconds field; zero
// means absent.
func TimeoutSecondsFromStruct(s *structpb.Struct) (int32, error) {
	v, _, err := int32Field(s, FieldTimeoutSeconds)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, invalid("%s must not be negative", FieldTimeoutSeconds)
	}
	return v, nil
}

// RequestFromStruct maps an acquisition payload onto a core.Request.
//
// Conventions:
//   - handle is required; type defaults to "none".
//   - assist is optional; its absent fields stay unspecified.
func RequestFromStruct(s *structpb.Struct) (core.Request, error) {
	h, err := HandleFromStruct(s)
	if err != nil {
		return core.Request{}, err
	}
	req := core.Request{Handle: h}

	typeName, err := stringField(s, FieldType)
	if err != nil {
		return core.Request{}, err
	}
	if typeName != "" {
		if req.Type, err = model.ParseLocationType(typeName); err != nil {
			return core.Request{}, invalid("%v", err)
		}
	}

	if req.AuthToken, err = stringField(s, FieldAuthToken); err != nil {
		return core.Request{}, err
	}

	if f, present := s.GetFields()[FieldAssist]; present {
		as := f.GetStructValue()
		if as == nil {
			return core.Request{}, invalid("%s must be an object", FieldAssist)
		}
		assist, err := assistFromStruct(as)
		if err != nil {
			return core.Request{}, err
		}
		req.Assist = &assist
	}
	return req, nil
}

func assistFromStruct(s *structpb.Struct) (model.Assist, error) {
	a := model.DefaultAssist()
	if v, ok, err := int32Field(s, FieldDesiredAccuracyMm); err != nil {
		return a, err
	} else if ok {
		a.DesiredAccuracyMillimetres = v
	}
	if v, ok, err := int32Field(s, FieldDesiredTimeoutS); err != nil {
		return a, err
	} else if ok {
		a.DesiredTimeoutSeconds = v
	}
	if v, ok, err := int32Field(s, FieldAssistModule); err != nil {
		return a, err
	} else if ok {
		a.AssistModule = model.ModuleHandle(v)
	}
	return a.Normalize(), nil
}

// RequestToStruct is the client-side inverse of RequestFromStruct.
func RequestToStruct(req core.Request) *structpb.Struct {
	fields := map[string]*structpb.Value{
		FieldHandle: structpb.NewNumberValue(float64(req.Handle)),
		FieldType:   structpb.NewStringValue(req.Type.String()),
	}
	if req.AuthToken != "" {
		fields[FieldAuthToken] = structpb.NewStringValue(req.AuthToken)
	}
	if req.Assist != nil {
		fields[FieldAssist] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			FieldDesiredAccuracyMm: structpb.NewNumberValue(float64(req.Assist.DesiredAccuracyMillimetres)),
			FieldDesiredTimeoutS:   structpb.NewNumberValue(float64(req.Assist.DesiredTimeoutSeconds)),
			FieldAssistModule:      structpb.NewNumberValue(float64(req.Assist.AssistModule)),
		}})
	}
	return &structpb.Struct{Fields: fields}
}

// LocationToStruct renders a fix. Degrees are included for readability
// alongside the fixed-point fields.
func LocationToStruct(loc model.Location) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldType:        structpb.NewStringValue(loc.Type.String()),
		"latitude_x1e7":  structpb.NewNumberValue(float64(loc.LatitudeX1e7)),
		"longitude_x1e7": structpb.NewNumberValue(float64(loc.LongitudeX1e7)),
		"latitude_deg":   structpb.NewNumberValue(loc.LatitudeDegrees()),
		"longitude_deg":  structpb.NewNumberValue(loc.LongitudeDegrees()),
		"altitude_mm":    structpb.NewNumberValue(float64(loc.AltitudeMillimetres)),
		"radius_mm":      structpb.NewNumberValue(float64(loc.RadiusMillimetres)),
		"speed_mm_per_s": structpb.NewNumberValue(float64(loc.SpeedMillimetresPerSecond)),
		"space_vehicles": structpb.NewNumberValue(float64(loc.SpaceVehicles)),
		"tick_time_ms":   structpb.NewNumberValue(float64(loc.TickTimeMs)),
	}}
}

// LocationFromStruct is the client-side inverse of LocationToStruct.
func LocationFromStruct(s *structpb.Struct) (model.Location, error) {
	typeName, err := stringField(s, FieldType)
	if err != nil {
		return model.Location{}, err
	}
	t, err := model.ParseLocationType(typeName)
	if err != nil {
		return model.Location{}, invalid("%v", err)
	}
	loc := model.UnknownLocation(t)
	for name, dst := range map[string]*int32{
		"latitude_x1e7":  &loc.LatitudeX1e7,
		"longitude_x1e7": &loc.LongitudeX1e7,
		"altitude_mm":    &loc.AltitudeMillimetres,
		"radius_mm":      &loc.RadiusMillimetres,
		"speed_mm_per_s": &loc.SpeedMillimetresPerSecond,
		"space_vehicles": &loc.SpaceVehicles,
		"tick_time_ms":   &loc.TickTimeMs,
	} {
		v, ok, err := int32Field(s, name)
		if err != nil {
			return model.Location{}, err
		}
		if ok {
			*dst = v
		}
	}
	return loc, nil
}

// StatusToStruct renders a module status.
func StatusToStruct(h model.ModuleHandle, st model.LocationStatus) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldHandle: structpb.NewNumberValue(float64(h)),
		FieldStatus: structpb.NewStringValue(st.String()),
	}}
}

// ModuleToStruct renders a catalogue entry.
func ModuleToStruct(d model.ModuleDescriptor) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		FieldHandle:     structpb.NewNumberValue(float64(d.Handle)),
		"name":          structpb.NewStringValue(d.Name),
		"class":         structpb.NewStringValue(d.Class.String()),
		"gnss_attached": structpb.NewBoolValue(d.GNSSAttached),
		"wifi":          structpb.NewBoolValue(d.Wifi),
	}})
}
