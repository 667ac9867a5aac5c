package demographic

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// CSVSource reads demographic records from a delimited file with a header
// row. Column names are matched case-insensitively.
type CSVSource struct {
	Path string
}

var csvColumns = map[string][]string{
	"parcel_id":        {"parcel_id", "parcel", "account_id"},
	"customer_name":    {"customer_name", "name"},
	"email":            {"email", "email_address"},
	"address":          {"address", "mailing_address", "address1"},
	"mobile":           {"mobile", "cell", "phone"},
	"postal_code":      {"postal_code", "zip", "zipcode"},
	"estimated_income": {"estimated_income", "income"},
	"energy_burden":    {"energy_burden"},
	"electric_burden":  {"electric_burden"},
	"gas_burden":       {"gas_burden"},
}

// LoadDemographics implements Source.
func (s CSVSource) LoadDemographics(ctx context.Context) ([]domain.DemographicRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open demographics csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f)
}

// ReadCSV parses records from r. Rows without a parcel id are skipped;
// unparseable numbers are left nil.
func ReadCSV(ctx context.Context, r io.Reader) ([]domain.DemographicRecord, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := mapColumns(header)
	if _, ok := cols["parcel_id"]; !ok {
		return nil, fmt.Errorf("no parcel id column in header: %v", header)
	}

	log := logger.With("component", "demographic")
	var out []domain.DemographicRecord
	skipped := 0
	for line := 2; ; line++ {
		if line%10000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		rec := domain.DemographicRecord{
			ParcelID:        get("parcel_id"),
			CustomerName:    get("customer_name"),
			Email:           get("email"),
			Address:         get("address"),
			Mobile:          get("mobile"),
			PostalCode:      get("postal_code"),
			EstimatedIncome: parseFloat(get("estimated_income")),
			EnergyBurden:    parseFloat(get("energy_burden")),
			ElectricBurden:  parseFloat(get("electric_burden")),
			GasBurden:       parseFloat(get("gas_burden")),
		}
		if rec.ParcelID == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if skipped > 0 {
		log.Warn("skipped demographic rows", "skipped", skipped)
	}
	return out, nil
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for field, aliases := range csvColumns {
		for _, alias := range aliases {
			if i := indexOf(header, alias); i >= 0 {
				cols[field] = i
				break
			}
		}
	}
	return cols
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func parseFloat(s string) *float64 {
	s = strings.NewReplacer("$", "", ",", "", "%", "").Replace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, err := io.ReadFull(r, buf)
	if err != nil || n < 3 {
		return io.MultiReader(strings.NewReader(string(buf[:n])), r)
	}
	if buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
