// Package export materializes one CSV file per campaign from stored
// recipients and, optionally, their resolution results.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// FlagStyle selects the two-valued text used for engagement flags. One file
// always uses a single style.
type FlagStyle string

const (
	FlagYesNo  FlagStyle = "yesno"
	FlagBinary FlagStyle = "binary"
)

// DefaultSentinel marks absent demographic data.
const DefaultSentinel = "N/A"

var baseColumns = []string{
	"campaign_id", "campaign_name", "campaign_subject", "sent_at",
	"contact_id", "email", "subscription_status",
	"address", "city", "postal_code", "annual_usage", "annual_cost",
	"opened", "clicked", "bounced", "complained", "unsubscribed",
}

var resolutionColumns = []string{
	"match_tier", "region", "parcel_id", "customer_name",
	"estimated_income", "energy_burden", "electric_burden", "gas_burden",
}

// Uploader receives a copy of every materialized file.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Options configures a Materializer.
type Options struct {
	Dir       string
	FlagStyle FlagStyle
	Sentinel  string

	Uploader     Uploader
	UploadPrefix string
}

// Materializer renders campaign files.
type Materializer struct {
	opts    Options
	printer *message.Printer
	log     *logger.Logger
}

// New creates a Materializer, defaulting the flag style and sentinel.
func New(opts Options) *Materializer {
	if opts.FlagStyle != FlagBinary {
		opts.FlagStyle = FlagYesNo
	}
	if opts.Sentinel == "" {
		opts.Sentinel = DefaultSentinel
	}
	return &Materializer{
		opts:    opts,
		printer: message.NewPrinter(language.AmericanEnglish),
		log:     logger.With("component", "export"),
	}
}

// Columns returns the header row, with the resolution columns when
// resolved is set.
func Columns(resolved bool) []string {
	cols := append([]string(nil), baseColumns...)
	if resolved {
		cols = append(cols, resolutionColumns...)
	}
	return cols
}

// Write renders one campaign to w. A nil matches omits the resolution
// columns; otherwise matches must be positional with recipients.
func (m *Materializer) Write(w io.Writer, c domain.Campaign, recipients []domain.Recipient, matches []domain.MatchResult) error {
	resolved := matches != nil
	if resolved && len(matches) != len(recipients) {
		return fmt.Errorf("export campaign %s: %d match results for %d recipients", c.ID, len(matches), len(recipients))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns(resolved)); err != nil {
		return err
	}

	sentAt := ""
	if c.SentAt != nil {
		sentAt = c.SentAt.UTC().Format(time.RFC3339)
	}
	for i, r := range recipients {
		row := []string{
			c.ID, c.Name, c.Subject, sentAt,
			r.ContactID, r.Email, r.Status,
			r.Address(), r.City(), r.PostalCode(),
			m.number(r.AnnualUsage()), m.currency(r.AnnualCost()),
		}
		for _, f := range r.Engagement.Flags() {
			row = append(row, m.flag(f))
		}
		if resolved {
			row = append(row, m.resolution(matches[i])...)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (m *Materializer) resolution(res domain.MatchResult) []string {
	s := m.opts.Sentinel
	region := s
	if res.Region != "" {
		region = res.Region
	}
	if res.Record == nil {
		return []string{res.Tier.String(), region, s, s, s, s, s, s}
	}
	rec := res.Record
	return []string{
		res.Tier.String(), region,
		orSentinel(rec.ParcelID, s), orSentinel(rec.CustomerName, s),
		m.money(rec.EstimatedIncome), m.ratio(rec.EnergyBurden),
		m.ratio(rec.ElectricBurden), m.ratio(rec.GasBurden),
	}
}

func (m *Materializer) flag(v bool) string {
	if m.opts.FlagStyle == FlagBinary {
		if v {
			return "1"
		}
		return "0"
	}
	if v {
		return "Yes"
	}
	return "No"
}

func parseAmount(raw string) (float64, bool) {
	s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// currency renders a raw amount as "$1,705.35"; unparseable text passes
// through unchanged.
func (m *Materializer) currency(raw string) string {
	f, ok := parseAmount(raw)
	if !ok {
		return raw
	}
	return m.printer.Sprintf("$%.2f", f)
}

func (m *Materializer) number(raw string) string {
	f, ok := parseAmount(raw)
	if !ok {
		return raw
	}
	return m.printer.Sprintf("%.0f", f)
}

func (m *Materializer) money(v *float64) string {
	if v == nil {
		return m.opts.Sentinel
	}
	return m.printer.Sprintf("$%.2f", *v)
}

func (m *Materializer) ratio(v *float64) string {
	if v == nil {
		return m.opts.Sentinel
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func orSentinel(v, sentinel string) string {
	if strings.TrimSpace(v) == "" {
		return sentinel
	}
	return v
}

// WriteFile renders the campaign into Dir under FileName and uploads a copy
// when an Uploader is configured. It returns the local path.
func (m *Materializer) WriteFile(ctx context.Context, c domain.Campaign, recipients []domain.Recipient, matches []domain.MatchResult) (string, error) {
	var buf bytes.Buffer
	if err := m.Write(&buf, c, recipients, matches); err != nil {
		return "", err
	}

	name := FileName(c)
	dst := filepath.Join(m.opts.Dir, name)
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(dst, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}

	if m.opts.Uploader != nil {
		key := path.Join(m.opts.UploadPrefix, name)
		if err := m.opts.Uploader.Put(ctx, key, "text/csv", buf.Bytes()); err != nil {
			return dst, fmt.Errorf("upload export %s: %w", key, err)
		}
	}
	m.log.Info("campaign exported", "campaign_id", c.ID, "recipients", len(recipients), "file", dst)
	return dst, nil
}

const maxSlugLen = 60

// Slug lowercases name and replaces runs of anything but ASCII letters and
// digits with a single underscore.
func Slug(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	s := b.String()
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "_")
	}
	return s
}

// FileName is <campaign id>_<slug of name>.csv, or <campaign id>.csv when
// the name has no usable characters.
func FileName(c domain.Campaign) string {
	if s := Slug(c.Name); s != "" {
		return c.ID + "_" + s + ".csv"
	}
	return c.ID + ".csv"
}
