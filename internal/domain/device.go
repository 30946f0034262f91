package domain

// DeviceInfo describes the client a session was created from.
type DeviceInfo struct {
	UserAgent   string
	IPAddress   string
	Fingerprint string
	Location    string
}
