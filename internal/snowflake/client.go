// Package snowflake reads demographic records from a Snowflake warehouse
// table.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver

	"github.com/ignite/engagement-sync/internal/domain"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$.]*$`)

// Client provides read access to the demographic table.
type Client struct {
	db    *sql.DB
	table string
}

// NewClient opens a pooled connection to Snowflake.
func NewClient(cfg Config) (*Client, error) {
	db, err := sql.Open("snowflake", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewClientFromDB(db, cfg.Table)
}

// NewClientFromDB wraps an existing handle. table must be a plain
// (optionally qualified) identifier.
func NewClientFromDB(db *sql.DB, table string) (*Client, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid snowflake table name %q", table)
	}
	return &Client{db: db, table: table}, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping tests the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// LoadDemographics reads every record of the demographic table.
func (c *Client) LoadDemographics(ctx context.Context) ([]domain.DemographicRecord, error) {
	query := `
		SELECT PARCEL_ID, CUSTOMER_NAME, EMAIL, ADDRESS, MOBILE, POSTAL_CODE,
		       ESTIMATED_INCOME, ENERGY_BURDEN, ELECTRIC_BURDEN, GAS_BURDEN
		FROM ` + c.table + `
		ORDER BY PARCEL_ID`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query demographics: %w", err)
	}
	defer rows.Close()

	var result []domain.DemographicRecord
	for rows.Next() {
		var (
			rec                                  domain.DemographicRecord
			name, email, address, mobile, postal sql.NullString
			income, energy, electric, gas        sql.NullFloat64
		)
		if err := rows.Scan(&rec.ParcelID, &name, &email, &address, &mobile, &postal,
			&income, &energy, &electric, &gas); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.CustomerName = name.String
		rec.Email = email.String
		rec.Address = address.String
		rec.Mobile = mobile.String
		rec.PostalCode = postal.String
		rec.EstimatedIncome = floatPtr(income)
		rec.EnergyBurden = floatPtr(energy)
		rec.ElectricBurden = floatPtr(electric)
		rec.GasBurden = floatPtr(gas)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read demographics: %w", err)
	}
	return result, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
