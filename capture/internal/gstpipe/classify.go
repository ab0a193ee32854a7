package gstpipe

import "strings"

// Category classifies a pipeline error for telemetry.
type Category int

const (
	// CategoryDevice covers missing, busy or vanished capture devices.
	CategoryDevice Category = iota
	// CategoryNegotiation covers caps/format negotiation failures.
	CategoryNegotiation
	// CategoryPermission covers access denied on the device node.
	CategoryPermission
	// CategoryResource covers memory, buffer pool and allocation failures.
	CategoryResource
	// CategoryUnknown covers unclassified errors.
	CategoryUnknown
)

// Categories lists every category, in declaration order.
var Categories = []Category{
	CategoryDevice,
	CategoryNegotiation,
	CategoryPermission,
	CategoryResource,
	CategoryUnknown,
}

// String returns a human-readable category name.
func (c Category) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryNegotiation:
		return "negotiation"
	case CategoryPermission:
		return "permission"
	case CategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

var (
	permissionKeywords = []string{
		"permission denied",
		"not permitted",
		"eacces",
		"access denied",
	}
	negotiationKeywords = []string{
		"not negotiated",
		"not-negotiated",
		"negotiation",
		"caps",
		"format",
		"no supported",
		"could not negotiate",
		"unsupported",
	}
	resourceKeywords = []string{
		"out of memory",
		"buffer pool",
		"allocate",
		"no space",
		"resource busy",
	}
	deviceKeywords = []string{
		"device",
		"/dev/",
		"no such file",
		"cannot identify",
		"could not open",
		"v4l2",
		"disconnected",
	}
)

// Classify categorizes an error from its message and debug string.
//
// go-gst's GError does not expose the error domain, so classification relies
// on keyword matching. Priority: permission, negotiation, resource, device.
func Classify(errMsg, debug string) Category {
	combined := strings.ToLower(errMsg + " " + debug)

	switch {
	case containsAny(combined, permissionKeywords):
		return CategoryPermission
	case containsAny(combined, negotiationKeywords):
		return CategoryNegotiation
	case containsAny(combined, resourceKeywords):
		return CategoryResource
	case containsAny(combined, deviceKeywords):
		return CategoryDevice
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
