//go:build !tinygo

package devcloud

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewSQLRepository(db), mock
}

var deviceRowColumns = []string{
	"id", "mac", "status", "user_id", "firmware_version", "ip", "battery", "rssi", "last_seen",
	"secret_hash", "secret_expires_at", "display_json", "display_hash",
	"auto_update", "demo_mode", "pending_reset", "created_at",
}

func TestSQLRepository_DeviceByMAC(t *testing.T) {
	tests := []struct {
		name       string
		mockExpect func(sqlmock.Sqlmock)
		wantID     string
		wantErr    string
	}{
		{
			name: "found",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(regexp.QuoteMeta(selectDeviceByMACSQL)).
					WithArgs("24:6F:28:AB:12:CD").
					WillReturnRows(sqlmock.NewRows(deviceRowColumns).AddRow(
						"d1", "24:6F:28:AB:12:CD", StatusActive, "u1", "28", "10.0.0.7", 87, -60, int64(1000),
						"$2a$hash", int64(2000), `{"mainText":"hi"}`, "sha256:ab",
						true, false, false, int64(500)))
			},
			wantID: "d1",
		},
		{
			name: "not found",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(regexp.QuoteMeta(selectDeviceByMACSQL)).
					WithArgs("24:6F:28:AB:12:CD").
					WillReturnRows(sqlmock.NewRows(deviceRowColumns))
			},
		},
		{
			name: "query error",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(regexp.QuoteMeta(selectDeviceByMACSQL)).
					WithArgs("24:6F:28:AB:12:CD").
					WillReturnError(errors.New("disk I/O error"))
			},
			wantErr: "select device",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tt.mockExpect(mock)

			d, err := repo.DeviceByMAC(context.Background(), "24:6F:28:AB:12:CD")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantID == "" {
				if d != nil {
					t.Fatalf("expected nil device, got %+v", d)
				}
				return
			}
			if d == nil || d.ID != tt.wantID || !d.AutoUpdate || d.Battery != 87 || d.DisplayHash != "sha256:ab" {
				t.Fatalf("unexpected device %+v", d)
			}
		})
	}
}

func TestSQLRepository_AttachClaim(t *testing.T) {
	tests := []struct {
		name       string
		mockExpect func(sqlmock.Sqlmock)
		want       bool
		wantErr    string
	}{
		{
			name: "attached",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(attachClaimSQL)).
					WithArgs("u1", "123456").
					WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectExec(regexp.QuoteMeta(activateDeviceSQL)).
					WithArgs("u1", "d1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectCommit()
			},
			want: true,
		},
		{
			name: "already claimed",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(attachClaimSQL)).
					WithArgs("u1", "123456").
					WillReturnResult(sqlmock.NewResult(0, 0))
				m.ExpectRollback()
			},
		},
		{
			name: "activate fails",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectExec(regexp.QuoteMeta(attachClaimSQL)).
					WithArgs("u1", "123456").
					WillReturnResult(sqlmock.NewResult(0, 1))
				m.ExpectExec(regexp.QuoteMeta(activateDeviceSQL)).
					WithArgs("u1", "d1").
					WillReturnError(errors.New("locked"))
				m.ExpectRollback()
			},
			wantErr: "activate device",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			tt.mockExpect(mock)

			ok, err := repo.AttachClaim(context.Background(), "123456", "d1", "u1")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.want {
				t.Fatalf("attached = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSQLRepository_IssueSecretOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(markSecretIssuedSQL)).
		WithArgs("123456").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.IssueSecret(context.Background(), "123456", "d1", "$2a$hash", 99)
	if err != nil || ok {
		t.Fatalf("second issue: ok=%v err=%v", ok, err)
	}
}

func TestSQLRepository_QueueReset(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(queueResetSQL)).
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.QueueReset(context.Background(), "d1")
	if err != nil || ok {
		t.Fatalf("inactive device: ok=%v err=%v", ok, err)
	}
}
