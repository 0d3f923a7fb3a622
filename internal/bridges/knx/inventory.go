package knx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Inventory passively records the group addresses and individual addresses
// seen on the bus, along with the last value written to each group.
//
// The database must already carry the knx_group_addresses and knx_devices
// tables (see the migrations package).
//
// Thread Safety: All methods are safe for concurrent use.
type Inventory struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	gaStmt     *sql.Stmt
	deviceStmt *sql.Stmt
	stmtMu     sync.Mutex
}

// GroupRecord is one row of the group address inventory.
type GroupRecord struct {
	Address         string    `json:"address"`
	LastSeen        time.Time `json:"last_seen"`
	MessageCount    int64     `json:"message_count"`
	HasReadResponse bool      `json:"has_read_response"`
	LastValue       []byte    `json:"last_value,omitempty"`
	LastSource      string    `json:"last_source,omitempty"`
}

// DeviceRecord is one row of the device inventory.
type DeviceRecord struct {
	Address      string    `json:"address"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
}

// NewInventory creates an inventory on db. Call Start before recording.
func NewInventory(db *sql.DB) *Inventory {
	return &Inventory{db: db, now: time.Now}
}

// SetLogger sets the logger.
func (r *Inventory) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Calling it twice is a no-op.
func (r *Inventory) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.gaStmt != nil {
		return nil
	}

	gaStmt, err := r.db.Prepare(`
		INSERT INTO knx_group_addresses
			(group_address, last_seen, message_count, has_read_response, last_value, last_source)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(group_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			has_read_response = MAX(has_read_response, excluded.has_read_response),
			last_value = excluded.last_value,
			last_source = excluded.last_source
	`)
	if err != nil {
		return fmt.Errorf("preparing group upsert: %w", err)
	}

	deviceStmt, err := r.db.Prepare(`
		INSERT INTO knx_devices (individual_address, last_seen, message_count)
		VALUES (?, ?, 1)
		ON CONFLICT(individual_address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		gaStmt.Close() //nolint:errcheck
		return fmt.Errorf("preparing device upsert: %w", err)
	}

	r.gaStmt = gaStmt
	r.deviceStmt = deviceStmt
	return nil
}

// Stop releases the prepared statements. Later calls to RecordTelegram
// are ignored.
func (r *Inventory) Stop() {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.gaStmt != nil {
		r.gaStmt.Close() //nolint:errcheck
		r.gaStmt = nil
	}
	if r.deviceStmt != nil {
		r.deviceStmt.Close() //nolint:errcheck
		r.deviceStmt = nil
	}
}

// RecordTelegram records a group telegram from source to ga carrying data.
// isResponse marks a GroupValue_Response, which flags the group as readable.
func (r *Inventory) RecordTelegram(source, ga string, isResponse bool, data []byte) {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.gaStmt == nil {
		return
	}

	now := r.now().Unix()

	// 0.0.0 is never a real sender.
	if source != "" && source != "0.0.0" {
		if _, err := r.deviceStmt.Exec(source, now); err != nil {
			r.logError("recording device", err)
		}
	}

	var src any
	if source != "" {
		src = source
	}
	if _, err := r.gaStmt.Exec(ga, now, isResponse, data, src); err != nil {
		r.logError("recording group address", err)
	}
}

// GroupAddresses lists recorded group addresses, most recently seen first.
func (r *Inventory) GroupAddresses(ctx context.Context) ([]GroupRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_address, last_seen, message_count, has_read_response, last_value, last_source
		FROM knx_group_addresses
		ORDER BY last_seen DESC, group_address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying group addresses: %w", err)
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var (
			rec    GroupRecord
			seen   int64
			source sql.NullString
		)
		if err := rows.Scan(&rec.Address, &seen, &rec.MessageCount, &rec.HasReadResponse, &rec.LastValue, &source); err != nil {
			return nil, fmt.Errorf("scanning group address: %w", err)
		}
		rec.LastSeen = time.Unix(seen, 0).UTC()
		rec.LastSource = source.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Devices lists recorded individual addresses, most recently seen first.
func (r *Inventory) Devices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT individual_address, last_seen, message_count
		FROM knx_devices
		ORDER BY last_seen DESC, individual_address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var (
			rec  DeviceRecord
			seen int64
		)
		if err := rows.Scan(&rec.Address, &seen, &rec.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		rec.LastSeen = time.Unix(seen, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GroupAddressCount returns the number of recorded group addresses.
func (r *Inventory) GroupAddressCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_group_addresses`).Scan(&count)
	return count, err
}

// DeviceCount returns the number of recorded devices.
func (r *Inventory) DeviceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knx_devices`).Scan(&count)
	return count, err
}

func (r *Inventory) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
