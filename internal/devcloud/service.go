//go:build !tinygo

package devcloud

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tigermeter/internal/cloud"
	"tigermeter/internal/instruction"
	"tigermeter/internal/logs"
)

// Domain errors. Handlers map them to status codes.
var (
	ErrInvalidMAC       = errors.New("invalid mac")
	ErrBadSignature     = errors.New("invalid signature")
	ErrNotFound         = errors.New("not found")
	ErrInvalidCode      = errors.New("invalid code")
	ErrCodeExpired      = errors.New("expired code")
	ErrAlreadyClaimed   = errors.New("already claimed")
	ErrClaimPending     = errors.New("pending")
	ErrInvalidSecret    = errors.New("invalid or expired secret")
	ErrRevoked          = errors.New("device revoked")
	ErrNotActive        = errors.New("device must be active")
	ErrForbidden        = errors.New("forbidden")
	ErrBadInstruction   = errors.New("invalid instruction")
	ErrNothingToUpdate  = errors.New("no settings to update")
	ErrInvalidToken     = errors.New("invalid token")
	errCodeSpaceCrowded = errors.New("could not allocate a unique claim code")
)

// Config holds the server settings.
type Config struct {
	Addr                  string        `mapstructure:"addr"`
	DBPath                string        `mapstructure:"db_path"`
	JWTSecret             string        `mapstructure:"jwt_secret"`
	HMACKey               string        `mapstructure:"hmac_key"`
	ClaimTTL              time.Duration `mapstructure:"claim_ttl"`
	SecretTTL             time.Duration `mapstructure:"secret_ttl"`
	TokenTTL              time.Duration `mapstructure:"token_ttl"`
	LatestFirmwareVersion int           `mapstructure:"latest_firmware_version"`
	FirmwareDownloadURL   string        `mapstructure:"firmware_download_url"`
	BcryptCost            int           `mapstructure:"bcrypt_cost"`
}

func DefaultConfig() Config {
	return Config{
		Addr:                  ":8080",
		DBPath:                "tigercloud.db",
		JWTSecret:             "change-me-dev",
		HMACKey:               "change-me-dev-hmac",
		ClaimTTL:              300 * time.Second,
		SecretTTL:             90 * 24 * time.Hour,
		TokenTTL:              24 * time.Hour,
		LatestFirmwareVersion: 3,
		FirmwareDownloadURL:   "https://rd1-io.github.io/tigermeter-api/firmware/prod",
		BcryptCost:            bcrypt.DefaultCost,
	}
}

// Service implements the device protocol and the admin operations.
type Service struct {
	repo Repository
	cfg  Config
	log  *logs.Zap
	now  func() time.Time
}

func NewService(repo Repository, cfg Config, log *logs.Zap) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{repo: repo, cfg: cfg, log: log, now: time.Now}
}

type ClaimRequest struct {
	MAC             string `json:"mac"`
	FirmwareVersion string `json:"firmwareVersion"`
	Timestamp       uint64 `json:"timestamp"`
	HMAC            string `json:"hmac"`
}

type ClaimResult struct {
	Code      string `json:"code"`
	ExpiresAt string `json:"expiresAt"`
}

// IssueClaim verifies the request signature, registers the device on first
// contact and hands out a fresh 6 digit claim code.
func (s *Service) IssueClaim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	mac, ok := NormalizeMAC(req.MAC)
	if !ok {
		return ClaimResult{}, ErrInvalidMAC
	}
	if s.cfg.HMACKey != "" {
		want := cloud.Sign([]byte(s.cfg.HMACKey), req.MAC, req.FirmwareVersion, req.Timestamp)
		if !hmac.Equal([]byte(want), []byte(strings.ToLower(req.HMAC))) {
			return ClaimResult{}, ErrBadSignature
		}
	}

	now := s.now()
	dev, err := s.repo.DeviceByMAC(ctx, mac)
	if err != nil {
		return ClaimResult{}, err
	}
	if dev == nil {
		dev = &Device{
			ID:              uuid.NewString(),
			MAC:             mac,
			Status:          StatusAwaitingClaim,
			FirmwareVersion: req.FirmwareVersion,
			CreatedAt:       now.UnixMilli(),
		}
		if err := s.repo.CreateDevice(ctx, dev); err != nil {
			return ClaimResult{}, err
		}
	}

	expires := now.Add(s.cfg.ClaimTTL)
	for attempt := 0; attempt < 5; attempt++ {
		code, err := claimCode()
		if err != nil {
			return ClaimResult{}, err
		}
		existing, err := s.repo.ClaimByCode(ctx, code)
		if err != nil {
			return ClaimResult{}, err
		}
		if existing != nil {
			continue
		}
		err = s.repo.CreateClaim(ctx, &Claim{
			Code:      code,
			DeviceID:  dev.ID,
			MAC:       mac,
			Status:    ClaimPending,
			ExpiresAt: expires.UnixMilli(),
			CreatedAt: now.UnixMilli(),
		})
		if err != nil {
			return ClaimResult{}, err
		}
		if s.log != nil {
			s.log.Infow("claim_issued", "device_id", dev.ID, "mac", mac)
		}
		return ClaimResult{Code: code, ExpiresAt: expires.UTC().Format(time.RFC3339)}, nil
	}
	return ClaimResult{}, errCodeSpaceCrowded
}

// Attach binds a pending claim to a user and activates the device.
func (s *Service) Attach(ctx context.Context, code, userID string) (string, error) {
	c, err := s.repo.ClaimByCode(ctx, code)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", ErrInvalidCode
	}
	if s.expired(c.ExpiresAt) {
		return "", ErrCodeExpired
	}
	if c.Status != ClaimPending {
		return "", ErrAlreadyClaimed
	}
	ok, err := s.repo.AttachClaim(ctx, code, c.DeviceID, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrAlreadyClaimed
	}
	if s.log != nil {
		s.log.Infow("claim_attached", "device_id", c.DeviceID, "user_id", userID)
	}
	return c.DeviceID, nil
}

// PollResult carries the device credentials. The secret is only ever
// returned once.
type PollResult struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
	DisplayHash  string `json:"displayHash"`
	ExpiresAt    string `json:"expiresAt"`
}

func (s *Service) Poll(ctx context.Context, code string) (PollResult, error) {
	c, err := s.repo.ClaimByCode(ctx, code)
	if err != nil {
		return PollResult{}, err
	}
	if c == nil {
		return PollResult{}, ErrNotFound
	}
	if s.expired(c.ExpiresAt) {
		return PollResult{}, ErrCodeExpired
	}
	if c.Status != ClaimClaimed {
		return PollResult{}, ErrClaimPending
	}
	if c.SecretIssued {
		return PollResult{}, ErrNotFound
	}
	dev, err := s.repo.DeviceByID(ctx, c.DeviceID)
	if err != nil {
		return PollResult{}, err
	}
	if dev == nil {
		return PollResult{}, ErrNotFound
	}

	secret, err := newSecret()
	if err != nil {
		return PollResult{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cfg.BcryptCost)
	if err != nil {
		return PollResult{}, fmt.Errorf("hash secret: %w", err)
	}
	expires := s.now().Add(s.cfg.SecretTTL)
	ok, err := s.repo.IssueSecret(ctx, code, dev.ID, string(hash), expires.UnixMilli())
	if err != nil {
		return PollResult{}, err
	}
	if !ok {
		return PollResult{}, ErrNotFound
	}
	if s.log != nil {
		s.log.Infow("secret_issued", "device_id", dev.ID)
	}
	return PollResult{
		DeviceID:     dev.ID,
		DeviceSecret: secret,
		DisplayHash:  dev.DisplayHash,
		ExpiresAt:    expires.UTC().Format(time.RFC3339),
	}, nil
}

type HeartbeatRequest struct {
	Battery         *int   `json:"battery"`
	RSSI            *int   `json:"rssi"`
	IP              string `json:"ip"`
	FirmwareVersion string `json:"firmwareVersion"`
	UptimeSeconds   *int   `json:"uptimeSeconds"`
	DisplayHash     string `json:"displayHash"`
}

// HeartbeatResponse is either {factoryReset:true} or the settings block,
// plus the instruction when the device's hash is stale.
type HeartbeatResponse struct {
	FactoryReset          bool            `json:"factoryReset,omitempty"`
	OK                    bool            `json:"ok,omitempty"`
	AutoUpdate            *bool           `json:"autoUpdate,omitempty"`
	DemoMode              *bool           `json:"demoMode,omitempty"`
	LatestFirmwareVersion *int            `json:"latestFirmwareVersion,omitempty"`
	FirmwareDownloadURL   string          `json:"firmwareDownloadUrl,omitempty"`
	DisplayHash           string          `json:"displayHash,omitempty"`
	Instruction           json.RawMessage `json:"instruction,omitempty"`
}

// Authenticate checks a device bearer secret.
func (s *Service) Authenticate(ctx context.Context, id, secret string) (*Device, error) {
	dev, err := s.repo.DeviceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev == nil || dev.SecretHash == "" || secret == "" {
		return nil, ErrInvalidSecret
	}
	if s.expired(dev.SecretExpiresAt) {
		return nil, ErrInvalidSecret
	}
	if bcrypt.CompareHashAndPassword([]byte(dev.SecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidSecret
	}
	if dev.Status == StatusRevoked {
		return nil, ErrRevoked
	}
	return dev, nil
}

func (s *Service) Heartbeat(ctx context.Context, id, secret string, req HeartbeatRequest) (HeartbeatResponse, error) {
	dev, err := s.Authenticate(ctx, id, secret)
	if err != nil {
		return HeartbeatResponse{}, err
	}
	now := s.now().UnixMilli()

	if dev.PendingReset {
		if err := s.repo.ClearReset(ctx, id, now); err != nil {
			return HeartbeatResponse{}, err
		}
		if s.log != nil {
			s.log.Infow("factory_reset_delivered", "device_id", id)
		}
		return HeartbeatResponse{FactoryReset: true}, nil
	}

	t := Telemetry{Battery: -1, IP: req.IP, FirmwareVersion: req.FirmwareVersion}
	if req.Battery != nil {
		t.Battery = *req.Battery
	}
	if req.RSSI != nil {
		t.RSSI = *req.RSSI
	}
	if err := s.repo.RecordHeartbeat(ctx, id, t, now); err != nil {
		return HeartbeatResponse{}, err
	}

	autoUpdate, demo, latest := dev.AutoUpdate, dev.DemoMode, s.cfg.LatestFirmwareVersion
	resp := HeartbeatResponse{
		OK:                    true,
		AutoUpdate:            &autoUpdate,
		DemoMode:              &demo,
		LatestFirmwareVersion: &latest,
		FirmwareDownloadURL:   s.cfg.FirmwareDownloadURL,
	}
	if dev.DisplayJSON == "" || req.DisplayHash == dev.DisplayHash {
		return resp, nil
	}

	resp.DisplayHash = dev.DisplayHash
	resp.Instruction = json.RawMessage(dev.DisplayJSON)

	// One-shots are delivered once; the hash stays so the device is not
	// asked to redraw.
	stripped, changed, err := stripOneShots(dev.DisplayJSON)
	if err != nil {
		return HeartbeatResponse{}, err
	}
	if changed {
		if err := s.repo.SetDisplayBody(ctx, id, stripped); err != nil {
			return HeartbeatResponse{}, err
		}
	}
	return resp, nil
}

// SetDisplay validates and stores an instruction for the caller's device.
// An empty userID skips the ownership check (admin).
func (s *Service) SetDisplay(ctx context.Context, id, userID string, raw []byte) (string, error) {
	dev, err := s.repo.DeviceByID(ctx, id)
	if err != nil {
		return "", err
	}
	if dev == nil {
		return "", ErrNotFound
	}
	if userID != "" && dev.UserID != userID {
		return "", ErrForbidden
	}
	if dev.Status != StatusActive {
		return "", ErrNotActive
	}
	body, hash, err := CanonicalInstruction(raw)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetDisplay(ctx, id, body, hash); err != nil {
		return "", err
	}
	if s.log != nil {
		s.log.Infow("display_set", "device_id", id, "hash", hash)
	}
	return hash, nil
}

// CanonicalInstruction re-encodes an instruction object with sorted keys
// and returns it with its "sha256:<hex>" hash.
func CanonicalInstruction(raw []byte) (string, string, error) {
	if _, err := instruction.Decode(raw); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadInstruction, err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return "", "", ErrBadInstruction
	}
	delete(obj, "hash")
	delete(obj, "version")
	// encoding/json writes map keys sorted.
	body, err := json.Marshal(obj)
	if err != nil {
		return "", "", fmt.Errorf("encode instruction: %w", err)
	}
	sum := sha256.Sum256(body)
	return string(body), "sha256:" + hex.EncodeToString(sum[:]), nil
}

func stripOneShots(body string) (string, bool, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return "", false, fmt.Errorf("decode stored instruction: %w", err)
	}
	_, beep := obj["beep"]
	_, flash := obj["flashCount"]
	if !beep && !flash {
		return body, false, nil
	}
	delete(obj, "beep")
	delete(obj, "flashCount")
	out, err := json.Marshal(obj)
	if err != nil {
		return "", false, fmt.Errorf("encode stored instruction: %w", err)
	}
	return string(out), true, nil
}

func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	return s.repo.ListDevices(ctx)
}

func (s *Service) Device(ctx context.Context, id string) (*Device, error) {
	dev, err := s.repo.DeviceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, ErrNotFound
	}
	return dev, nil
}

// Revoke marks the device revoked; its next heartbeat gets 403.
func (s *Service) Revoke(ctx context.Context, id string) error {
	ok, err := s.repo.Revoke(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if s.log != nil {
		s.log.Infow("device_revoked", "device_id", id)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.DeleteDevice(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// QueueFactoryReset makes the next heartbeat answer {factoryReset:true}.
func (s *Service) QueueFactoryReset(ctx context.Context, id string) error {
	dev, err := s.Device(ctx, id)
	if err != nil {
		return err
	}
	if dev.Status != StatusActive {
		return ErrNotActive
	}
	ok, err := s.repo.QueueReset(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotActive
	}
	return nil
}

type Settings struct {
	AutoUpdate *bool `json:"autoUpdate"`
	DemoMode   *bool `json:"demoMode"`
}

func (s *Service) UpdateSettings(ctx context.Context, id string, in Settings) (*Device, error) {
	if in.AutoUpdate == nil && in.DemoMode == nil {
		return nil, ErrNothingToUpdate
	}
	dev, err := s.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.AutoUpdate != nil {
		dev.AutoUpdate = *in.AutoUpdate
	}
	if in.DemoMode != nil {
		dev.DemoMode = *in.DemoMode
	}
	if err := s.repo.SetSettings(ctx, id, dev.AutoUpdate, dev.DemoMode); err != nil {
		return nil, err
	}
	return dev, nil
}

// Claims are the JWT claims of an operator token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

const RoleAdmin = "admin"

// IssueToken signs an HS256 token for userID.
func (s *Service) IssueToken(userID, role string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	})
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *Service) ParseToken(accessToken string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) expired(ms int64) bool {
	return ms > 0 && s.now().UnixMilli() > ms
}

// NormalizeMAC accepts any separator and returns AA:BB:CC:DD:EE:FF.
func NormalizeMAC(s string) (string, bool) {
	var hexd []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			hexd = append(hexd, c)
		case c >= 'a' && c <= 'f':
			hexd = append(hexd, c-'a'+'A')
		}
	}
	if len(hexd) != 12 {
		return "", false
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.Write(hexd[i : i+2])
	}
	return b.String(), true
}

var millionCodes = big.NewInt(1_000_000)

func claimCode() (string, error) {
	n, err := rand.Int(rand.Reader, millionCodes)
	if err != nil {
		return "", fmt.Errorf("claim code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func newSecret() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("device secret: %w", err)
	}
	return "ds_" + hex.EncodeToString(b[:]), nil
}
