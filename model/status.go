package model

import "fmt"

// LocationStatus is the protocol progress of the current acquisition
// attempt on a module handle. Exactly one value is active per handle.
type LocationStatus int

const (
	StatusUnknown LocationStatus = iota
	StatusCellularScanStart
	StatusCellularScanEnd
	StatusRequestingDataFromServer
	StatusReceivingDataFromServer
	StatusSendingFeedbackToServer
	StatusWrongURL
	StatusHTTPError
	StatusCreateSocketError
	StatusWriteToSocketError
	StatusReadFromSocketError
	StatusConnectionOrDNSError
	StatusBadAuthenticationToken
	StatusGenericError
	StatusUserTerminated
	StatusNoDataFromServer
	StatusUnknownCommsError
	statusCount
)

var statusNames = [...]string{
	StatusUnknown:                  "UNKNOWN",
	StatusCellularScanStart:        "CELLULAR_SCAN_START",
	StatusCellularScanEnd:          "CELLULAR_SCAN_END",
	StatusRequestingDataFromServer: "REQUESTING_DATA_FROM_SERVER",
	StatusReceivingDataFromServer:  "RECEIVING_DATA_FROM_SERVER",
	StatusSendingFeedbackToServer:  "SENDING_FEEDBACK_TO_SERVER",
	StatusWrongURL:                 "WRONG_URL",
	StatusHTTPError:                "HTTP_ERROR",
	StatusCreateSocketError:        "CREATE_SOCKET_ERROR",
	StatusWriteToSocketError:       "WRITE_TO_SOCKET_ERROR",
	StatusReadFromSocketError:      "READ_FROM_SOCKET_ERROR",
	StatusConnectionOrDNSError:     "CONNECTION_OR_DNS_ERROR",
	StatusBadAuthenticationToken:   "BAD_AUTHENTICATION_TOKEN",
	StatusGenericError:             "GENERIC_ERROR",
	StatusUserTerminated:           "USER_TERMINATED",
	StatusNoDataFromServer:         "NO_DATA_FROM_SERVER",
	StatusUnknownCommsError:        "UNKNOWN_COMMS_ERROR",
}

// Valid reports whether s is a declared status value.
func (s LocationStatus) Valid() bool {
	return s >= StatusUnknown && s < statusCount
}

// IsProgress reports whether s is a transient progress marker.
func (s LocationStatus) IsProgress() bool {
	return s >= StatusCellularScanStart && s <= StatusSendingFeedbackToServer
}

// IsError reports whether s is terminal for the current attempt because
// something went wrong. USER_TERMINATED is not an error: it records a
// deliberate stop.
func (s LocationStatus) IsError() bool {
	if !s.Valid() {
		return false
	}
	switch s {
	case StatusUnknown, StatusUserTerminated:
		return false
	}
	return !s.IsProgress()
}

func (s LocationStatus) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("LocationStatus(%d)", int(s))
}

// ParseLocationStatus is the inverse of String.
func ParseLocationStatus(name string) (LocationStatus, error) {
	for i, n := range statusNames {
		if n == name {
			return LocationStatus(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown location status %q", name)
}
