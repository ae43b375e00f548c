//go:build !tinygo

package devcloud

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository persists devices and claims. Lookups return (nil, nil) when
// the row does not exist.
type Repository interface {
	DeviceByID(ctx context.Context, id string) (*Device, error)
	DeviceByMAC(ctx context.Context, mac string) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
	CreateDevice(ctx context.Context, d *Device) error
	DeleteDevice(ctx context.Context, id string) (bool, error)

	CreateClaim(ctx context.Context, c *Claim) error
	ClaimByCode(ctx context.Context, code string) (*Claim, error)
	AttachClaim(ctx context.Context, code, deviceID, userID string) (bool, error)
	IssueSecret(ctx context.Context, code, deviceID, hash string, expiresAt int64) (bool, error)

	RecordHeartbeat(ctx context.Context, id string, t Telemetry, at int64) error
	ClearReset(ctx context.Context, id string, at int64) error
	SetDisplay(ctx context.Context, id, body, hash string) error
	SetDisplayBody(ctx context.Context, id, body string) error
	Revoke(ctx context.Context, id string) (bool, error)
	QueueReset(ctx context.Context, id string) (bool, error)
	SetSettings(ctx context.Context, id string, autoUpdate, demoMode bool) error
}

const deviceColumns = `id, mac, status, user_id, firmware_version, ip, battery, rssi, last_seen,
    secret_hash, secret_expires_at, display_json, display_hash,
    auto_update, demo_mode, pending_reset, created_at`

const (
	selectDeviceByIDSQL  = `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`
	selectDeviceByMACSQL = `SELECT ` + deviceColumns + ` FROM devices WHERE mac = ?`
	listDevicesSQL       = `SELECT ` + deviceColumns + ` FROM devices ORDER BY created_at, id`
	insertDeviceSQL      = `INSERT INTO devices (id, mac, status, firmware_version, created_at) VALUES (?, ?, ?, ?, ?)`
	deleteDeviceSQL      = `DELETE FROM devices WHERE id = ?`

	insertClaimSQL = `INSERT INTO claims (code, device_id, mac, status, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	selectClaimSQL = `SELECT code, device_id, mac, status, user_id, secret_issued, expires_at, created_at
    FROM claims WHERE code = ?`
	attachClaimSQL      = `UPDATE claims SET status = 'claimed', user_id = ? WHERE code = ? AND status = 'pending'`
	activateDeviceSQL   = `UPDATE devices SET status = 'active', user_id = ? WHERE id = ?`
	markSecretIssuedSQL = `UPDATE claims SET secret_issued = 1 WHERE code = ? AND secret_issued = 0`
	setSecretSQL        = `UPDATE devices SET secret_hash = ?, secret_expires_at = ? WHERE id = ?`

	recordHeartbeatSQL = `UPDATE devices SET battery = ?, rssi = ?, ip = ?, firmware_version = ?, last_seen = ? WHERE id = ?`
	clearResetSQL      = `UPDATE devices SET pending_reset = 0, last_seen = ? WHERE id = ?`
	setDisplaySQL      = `UPDATE devices SET display_json = ?, display_hash = ? WHERE id = ?`
	setDisplayBodySQL  = `UPDATE devices SET display_json = ? WHERE id = ?`
	revokeDeviceSQL    = `UPDATE devices SET status = 'revoked', display_json = '', display_hash = '' WHERE id = ?`
	queueResetSQL      = `UPDATE devices SET pending_reset = 1 WHERE id = ? AND status = 'active'`
	setSettingsSQL     = `UPDATE devices SET auto_update = ?, demo_mode = ? WHERE id = ?`
)

// SQLRepository is the database/sql implementation of Repository.
type SQLRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLRepository)(nil)

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	err := s.Scan(&d.ID, &d.MAC, &d.Status, &d.UserID, &d.FirmwareVersion, &d.IP,
		&d.Battery, &d.RSSI, &d.LastSeen, &d.SecretHash, &d.SecretExpiresAt,
		&d.DisplayJSON, &d.DisplayHash, &d.AutoUpdate, &d.DemoMode, &d.PendingReset, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *SQLRepository) deviceBy(ctx context.Context, query, key string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select device %q: %w", key, err)
	}
	return d, nil
}

func (r *SQLRepository) DeviceByID(ctx context.Context, id string) (*Device, error) {
	return r.deviceBy(ctx, selectDeviceByIDSQL, id)
}

func (r *SQLRepository) DeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	return r.deviceBy(ctx, selectDeviceByMACSQL, mac)
}

func (r *SQLRepository) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, listDevicesSQL)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) CreateDevice(ctx context.Context, d *Device) error {
	if d == nil {
		return errors.New("device is nil")
	}
	if _, err := r.db.ExecContext(ctx, insertDeviceSQL, d.ID, d.MAC, d.Status, d.FirmwareVersion, d.CreatedAt); err != nil {
		return fmt.Errorf("insert device %q: %w", d.MAC, err)
	}
	return nil
}

func (r *SQLRepository) DeleteDevice(ctx context.Context, id string) (bool, error) {
	return r.execAffected(ctx, "delete device", deleteDeviceSQL, id)
}

func (r *SQLRepository) CreateClaim(ctx context.Context, c *Claim) error {
	if c == nil {
		return errors.New("claim is nil")
	}
	_, err := r.db.ExecContext(ctx, insertClaimSQL, c.Code, c.DeviceID, c.MAC, c.Status, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (r *SQLRepository) ClaimByCode(ctx context.Context, code string) (*Claim, error) {
	var c Claim
	err := r.db.QueryRowContext(ctx, selectClaimSQL, code).Scan(
		&c.Code, &c.DeviceID, &c.MAC, &c.Status, &c.UserID, &c.SecretIssued, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claim: %w", err)
	}
	return &c, nil
}

// AttachClaim marks a pending claim claimed and activates its device in one
// transaction. It reports false when the claim was no longer pending.
func (r *SQLRepository) AttachClaim(ctx context.Context, code, deviceID, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin attach: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, attachClaimSQL, userID, code)
	if err != nil {
		return false, fmt.Errorf("attach claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, activateDeviceSQL, userID, deviceID); err != nil {
		return false, fmt.Errorf("activate device %q: %w", deviceID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit attach: %w", err)
	}
	return true, nil
}

// IssueSecret stores a secret hash for the device unless the claim already
// handed one out. It reports false in that case.
func (r *SQLRepository) IssueSecret(ctx context.Context, code, deviceID, hash string, expiresAt int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin issue secret: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, markSecretIssuedSQL, code)
	if err != nil {
		return false, fmt.Errorf("mark secret issued: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, setSecretSQL, hash, expiresAt, deviceID); err != nil {
		return false, fmt.Errorf("set secret for %q: %w", deviceID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit issue secret: %w", err)
	}
	return true, nil
}

func (r *SQLRepository) RecordHeartbeat(ctx context.Context, id string, t Telemetry, at int64) error {
	if _, err := r.db.ExecContext(ctx, recordHeartbeatSQL, t.Battery, t.RSSI, t.IP, t.FirmwareVersion, at, id); err != nil {
		return fmt.Errorf("record heartbeat %q: %w", id, err)
	}
	return nil
}

func (r *SQLRepository) ClearReset(ctx context.Context, id string, at int64) error {
	if _, err := r.db.ExecContext(ctx, clearResetSQL, at, id); err != nil {
		return fmt.Errorf("clear reset %q: %w", id, err)
	}
	return nil
}

func (r *SQLRepository) SetDisplay(ctx context.Context, id, body, hash string) error {
	if _, err := r.db.ExecContext(ctx, setDisplaySQL, body, hash, id); err != nil {
		return fmt.Errorf("set display %q: %w", id, err)
	}
	return nil
}

func (r *SQLRepository) SetDisplayBody(ctx context.Context, id, body string) error {
	if _, err := r.db.ExecContext(ctx, setDisplayBodySQL, body, id); err != nil {
		return fmt.Errorf("set display body %q: %w", id, err)
	}
	return nil
}

func (r *SQLRepository) Revoke(ctx context.Context, id string) (bool, error) {
	return r.execAffected(ctx, "revoke device", revokeDeviceSQL, id)
}

func (r *SQLRepository) QueueReset(ctx context.Context, id string) (bool, error) {
	return r.execAffected(ctx, "queue reset", queueResetSQL, id)
}

func (r *SQLRepository) SetSettings(ctx context.Context, id string, autoUpdate, demoMode bool) error {
	if _, err := r.db.ExecContext(ctx, setSettingsSQL, autoUpdate, demoMode, id); err != nil {
		return fmt.Errorf("set settings %q: %w", id, err)
	}
	return nil
}

func (r *SQLRepository) execAffected(ctx context.Context, what, query, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%s %q: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s %q: %w", what, id, err)
	}
	return n > 0, nil
}
