// Package cloud is the device side of the TigerMeter API: claim issue,
// claim poll and heartbeat.
package cloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tigermeter/internal/instruction"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config wires a Client.
type Config struct {
	BaseURL         string
	HMACKey         string
	FirmwareVersion string
	MAC             net.HardwareAddr
	// Insecure skips TLS certificate verification.
	Insecure bool
	Timeout  time.Duration
	// Uptime supplies the claim timestamp. Defaults to time since New.
	Uptime func() time.Duration
	// HTTP overrides the transport (tests).
	HTTP Doer
}

// Client talks to one API base URL. It holds no device state.
type Client struct {
	base   string
	key    []byte
	fw     string
	mac    string
	uptime func() time.Duration
	http   Doer
}

const maxBody = 64 << 10

func New(cfg Config) *Client {
	c := &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		key:    []byte(cfg.HMACKey),
		fw:     cfg.FirmwareVersion,
		mac:    MACString(cfg.MAC),
		uptime: cfg.Uptime,
		http:   cfg.HTTP,
	}
	if c.uptime == nil {
		start := time.Now()
		c.uptime = func() time.Duration { return time.Since(start) }
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.http = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
			},
		}
	}
	return c
}

// MACString formats hw as AA:BB:CC:DD:EE:FF.
func MACString(hw net.HardwareAddr) string {
	return strings.ToUpper(hw.String())
}

// Sign returns the lowercase hex HMAC-SHA256 of "mac:fw:timestamp".
func Sign(key []byte, mac, fw string, timestamp uint64) string {
	m := hmac.New(sha256.New, key)
	fmt.Fprintf(m, "%s:%s:%d", mac, fw, timestamp)
	return hex.EncodeToString(m.Sum(nil))
}

// Claim is an issued claim session.
type Claim struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expiresAt"`
}

type claimRequest struct {
	MAC             string `json:"mac"`
	FirmwareVersion string `json:"firmwareVersion"`
	Timestamp       uint64 `json:"timestamp"`
	HMAC            string `json:"hmac"`
}

// IssueClaim asks for a new claim code.
func (c *Client) IssueClaim(ctx context.Context) (Claim, error) {
	ts := uint64(c.uptime().Milliseconds())
	body := claimRequest{
		MAC:             c.mac,
		FirmwareVersion: c.fw,
		Timestamp:       ts,
		HMAC:            Sign(c.key, c.mac, c.fw, ts),
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/device-claims", "", body)
	if err != nil {
		return Claim{}, err
	}
	if status != http.StatusCreated {
		return Claim{}, statusError(status, raw, KindServer)
	}
	var cl Claim
	if err := json.Unmarshal(raw, &cl); err != nil {
		return Claim{}, &Error{Kind: KindProtocol, Status: status, Message: "JSON parse error", Err: err}
	}
	if cl.Code == "" {
		return Claim{}, &Error{Kind: KindProtocol, Status: status, Message: "missing code"}
	}
	return cl, nil
}

// Credentials are returned once when the claim is attached.
type Credentials struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
	DisplayHash  string `json:"displayHash"`
	ExpiresAt    string `json:"expiresAt"`
}

// PollClaim checks the claim. A pending claim is reported as an Error of
// KindClaimPending; 404 and 410 map to KindClaimNotFound and KindClaimExpired.
func (c *Client) PollClaim(ctx context.Context, code string) (Credentials, error) {
	status, raw, err := c.do(ctx, http.MethodGet, "/device-claims/"+url.PathEscape(code)+"/poll", "", nil)
	if err != nil {
		return Credentials{}, err
	}
	switch status {
	case http.StatusOK:
		var cr Credentials
		if err := json.Unmarshal(raw, &cr); err != nil {
			return Credentials{}, &Error{Kind: KindProtocol, Status: status, Message: "JSON parse error", Err: err}
		}
		if cr.DeviceID == "" || cr.DeviceSecret == "" {
			return Credentials{}, &Error{Kind: KindProtocol, Status: status, Message: "missing credentials"}
		}
		return cr, nil
	case http.StatusAccepted:
		return Credentials{}, &Error{Kind: KindClaimPending, Status: status, Message: "pending"}
	case http.StatusNotFound:
		return Credentials{}, &Error{Kind: KindClaimNotFound, Status: status, Message: "Claim not found or already used"}
	case http.StatusGone:
		return Credentials{}, &Error{Kind: KindClaimExpired, Status: status, Message: "Claim expired"}
	default:
		return Credentials{}, statusError(status, raw, KindServer)
	}
}

// Telemetry is reported with each heartbeat. Battery < 0, RSSI == 0 and
// UptimeSeconds < 0 are left out of the request.
type Telemetry struct {
	Battery       int
	RSSI          int
	IP            string
	UptimeSeconds int
	DisplayHash   string
}

type heartbeatRequest struct {
	Battery         *int   `json:"battery,omitempty"`
	RSSI            *int   `json:"rssi,omitempty"`
	IP              string `json:"ip"`
	FirmwareVersion string `json:"firmwareVersion"`
	UptimeSeconds   *int   `json:"uptimeSeconds,omitempty"`
	DisplayHash     string `json:"displayHash"`
}

// Heartbeat is a decoded 200 response. Instruction is nil when the server
// has nothing newer than the hash that was sent.
type Heartbeat struct {
	FactoryReset          bool
	DisplayHash           string
	Instruction           *instruction.Instruction
	AutoUpdate            *bool
	DemoMode              *bool
	LatestFirmwareVersion int
	FirmwareDownloadURL   string
}

type heartbeatResponse struct {
	FactoryReset          bool            `json:"factoryReset"`
	DisplayHash           string          `json:"displayHash"`
	Instruction           json.RawMessage `json:"instruction"`
	AutoUpdate            *bool           `json:"autoUpdate"`
	DemoMode              *bool           `json:"demoMode"`
	LatestFirmwareVersion *float64        `json:"latestFirmwareVersion"`
	FirmwareDownloadURL   string          `json:"firmwareDownloadUrl"`
}

// Heartbeat reports liveness and pulls the next instruction.
func (c *Client) Heartbeat(ctx context.Context, deviceID, secret string, t Telemetry) (Heartbeat, error) {
	req := heartbeatRequest{
		IP:              t.IP,
		FirmwareVersion: c.fw,
		DisplayHash:     t.DisplayHash,
	}
	if t.Battery >= 0 {
		req.Battery = &t.Battery
	}
	if t.RSSI != 0 {
		req.RSSI = &t.RSSI
	}
	if t.UptimeSeconds >= 0 {
		req.UptimeSeconds = &t.UptimeSeconds
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/heartbeat", secret, req)
	if err != nil {
		return Heartbeat{}, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Heartbeat{}, statusError(status, raw, KindAuthInvalid)
	case http.StatusForbidden:
		return Heartbeat{}, statusError(status, raw, KindAuthRevoked)
	default:
		return Heartbeat{}, statusError(status, raw, KindServer)
	}

	var resp heartbeatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Heartbeat{}, &Error{Kind: KindProtocol, Status: status, Message: "JSON parse error", Err: err}
	}
	if resp.FactoryReset {
		return Heartbeat{FactoryReset: true}, nil
	}
	hb := Heartbeat{
		DisplayHash:         resp.DisplayHash,
		AutoUpdate:          resp.AutoUpdate,
		DemoMode:            resp.DemoMode,
		FirmwareDownloadURL: resp.FirmwareDownloadURL,
	}
	if resp.LatestFirmwareVersion != nil {
		hb.LatestFirmwareVersion = int(*resp.LatestFirmwareVersion)
	}
	if len(resp.Instruction) > 0 && string(resp.Instruction) != "null" {
		in, err := instruction.Decode(resp.Instruction)
		if err != nil {
			return Heartbeat{}, &Error{Kind: KindProtocol, Status: status, Message: "bad instruction", Err: err}
		}
		hb.Instruction = &in
	}
	return hb, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, &Error{Kind: KindProtocol, Message: "encode request", Err: err}
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, &Error{Kind: KindTransport, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, &Error{Kind: KindTransport, Status: resp.StatusCode, Message: "read body", Err: err}
	}
	return resp.StatusCode, raw, nil
}

// statusError extracts "message" from an error body, else "HTTP <code>".
func statusError(status int, raw []byte, kind Kind) *Error {
	var body struct {
		Message string `json:"message"`
	}
	msg := fmt.Sprintf("HTTP %d", status)
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	if kind == KindServer && status == http.StatusRequestTimeout {
		kind = KindTransport
	}
	return &Error{Kind: kind, Status: status, Message: msg}
}
