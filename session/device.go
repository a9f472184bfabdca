package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mileusna/useragent"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// DeviceInfo is what the server can learn about a client from one request.
type DeviceInfo struct {
	IPAddress      string `json:"ip_address"`
	UserAgent      string `json:"user_agent"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version,omitempty"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
	DeviceClass    string `json:"device_class"`
	Device         string `json:"device,omitempty"`
}

func DeriveDevice(ipAddress, userAgent string) DeviceInfo {
	info := DeviceInfo{
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		OS:          "Unknown OS",
		Browser:     "Unknown Browser",
		DeviceClass: DeviceUnknown,
	}
	if userAgent == "" {
		return info
	}

	ua := useragent.Parse(userAgent)

	switch {
	case ua.Bot:
		info.DeviceClass = DeviceBot
	case ua.Tablet:
		info.DeviceClass = DeviceTablet
	case ua.Mobile:
		info.DeviceClass = DeviceMobile
	case ua.Desktop:
		info.DeviceClass = DeviceDesktop
	}

	if ua.Name != "" {
		info.Browser = ua.Name
		info.BrowserVersion = ua.Version
	}
	if ua.OS != "" {
		info.OS = ua.OS
		info.OSVersion = ua.OSVersion
	}
	info.Device = ua.Device

	return info
}

// Label is a human readable summary such as "Chrome on Windows".
func (d DeviceInfo) Label() string {
	return d.Browser + " on " + d.OS
}

// Fingerprint reduces a device to a stable 16 hex character hash. Versions are
// left out so a browser update does not look like a new device. It is a weak
// correlation signal and must never be used to authenticate anything.
func Fingerprint(d DeviceInfo) string {
	parts := []string{
		d.IPAddress,
		strings.ToLower(d.OS),
		strings.ToLower(d.Browser),
		d.DeviceClass,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
