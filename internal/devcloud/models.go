//go:build !tinygo

package devcloud

// Device statuses.
const (
	StatusAwaitingClaim = "awaiting_claim"
	StatusActive        = "active"
	StatusRevoked       = "revoked"
)

// Claim statuses.
const (
	ClaimPending = "pending"
	ClaimClaimed = "claimed"
)

// Device is one row of the devices table. Times are unix milliseconds.
type Device struct {
	ID              string `json:"id"`
	MAC             string `json:"mac"`
	Status          string `json:"status"`
	UserID          string `json:"userId"`
	FirmwareVersion string `json:"firmwareVersion"`
	IP              string `json:"ip"`
	Battery         int    `json:"battery"`
	RSSI            int    `json:"rssi"`
	LastSeen        int64  `json:"lastSeen"`
	SecretHash      string `json:"-"`
	SecretExpiresAt int64  `json:"secretExpiresAt"`
	DisplayJSON     string `json:"-"`
	DisplayHash     string `json:"displayHash"`
	AutoUpdate      bool   `json:"autoUpdate"`
	DemoMode        bool   `json:"demoMode"`
	PendingReset    bool   `json:"pendingFactoryReset"`
	CreatedAt       int64  `json:"createdAt"`
}

// Claim is one issued claim code.
type Claim struct {
	Code         string `json:"code"`
	DeviceID     string `json:"deviceId"`
	MAC          string `json:"mac"`
	Status       string `json:"status"`
	UserID       string `json:"userId"`
	SecretIssued bool   `json:"secretIssued"`
	ExpiresAt    int64  `json:"expiresAt"`
	CreatedAt    int64  `json:"createdAt"`
}

// Telemetry is what a heartbeat records.
type Telemetry struct {
	Battery         int
	RSSI            int
	IP              string
	FirmwareVersion string
}
