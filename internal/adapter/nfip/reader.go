// Package nfip aggregates OpenFEMA NFIP claims and policy exports into
// per-ZIP, per-year insurance records.
package nfip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/tabular"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	source       = "nfip"
	claimsFile   = "claims.csv"
	policiesFile = "policies.csv"

	colReportedZIP = "reportedZipCode"
	colPropertyZIP = "propertyZipCode"
	colYearOfLoss  = "yearOfLoss"
	colBuilding    = "amountPaidOnBuildingClaim"
	colContents    = "amountPaidOnContentsClaim"
	colEffective   = "policyEffectiveDate"
	colPremium     = "totalInsurancePremiumOfThePolicy"
)

// Reader loads NFIP exports from a directory.
type Reader struct {
	dir    string
	logger *slog.Logger
}

// NewReader creates a reader over dir, which holds claims.csv and policies.csv.
func NewReader(dir string, logger *slog.Logger) *Reader {
	return &Reader{dir: dir, logger: logger}
}

type aggregate struct {
	claims   int
	policies int
	paid     decimal.Decimal
	premium  decimal.Decimal
}

// Fetch aggregates claims and policies for every (zip, year) in zips x years.
// Records are sorted by ZIP then year. Keys with neither claims nor policies
// are listed in a *domain.CoverageError returned with the records.
func (r *Reader) Fetch(ctx context.Context, zips []string, years domain.YearRange) ([]domain.InsuranceRecord, error) {
	wanted := make(map[string]bool, len(zips))
	for _, z := range zips {
		wanted[z] = true
	}
	agg := make(map[domain.Key]*aggregate)
	get := func(k domain.Key) *aggregate {
		a := agg[k]
		if a == nil {
			a = &aggregate{paid: decimal.Zero, premium: decimal.Zero}
			agg[k] = a
		}
		return a
	}

	claimsOK, err := r.readFile(ctx, claimsFile, func(tbl *tabular.Table) error {
		return r.readClaims(ctx, tbl, wanted, years, get)
	}, colYearOfLoss, colBuilding, colContents)
	if err != nil {
		return nil, err
	}
	policiesOK, err := r.readFile(ctx, policiesFile, func(tbl *tabular.Table) error {
		return r.readPolicies(ctx, tbl, wanted, years, get)
	}, colEffective, colPremium)
	if err != nil {
		return nil, err
	}
	if !claimsOK && !policiesOK {
		return nil, fmt.Errorf("%s: %w: no exports under %s", source, domain.ErrDataUnavailable, r.dir)
	}

	sortedZIPs := append([]string(nil), zips...)
	sort.Strings(sortedZIPs)

	var records []domain.InsuranceRecord
	var missing []string
	for _, z := range sortedZIPs {
		for _, y := range years.Years() {
			k := domain.Key{ZIP: z, Year: y}
			a, ok := agg[k]
			if !ok {
				missing = append(missing, k.String())
				continue
			}
			rec := domain.InsuranceRecord{
				ZIP:          z,
				Year:         y,
				ClaimsCount:  a.claims,
				PolicyCount:  a.policies,
				TotalPremium: a.premium,
				TotalPaid:    a.paid,
				AvgPremium:   decimal.Zero,
			}
			if a.policies > 0 {
				rec.AvgPremium = a.premium.Div(decimal.NewFromInt(int64(a.policies))).Round(2)
			}
			records = append(records, rec)
		}
	}
	return records, domain.NewCoverageError(source, missing)
}

// readFile opens name and hands it to fn. A missing file is logged and
// reported as not ok rather than failing the run.
func (r *Reader) readFile(ctx context.Context, name string, fn func(*tabular.Table) error, required ...string) (bool, error) {
	path := filepath.Join(r.dir, name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("nfip export missing", "path", path)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tbl, err := tabular.Open(source+"/"+name, f, required...)
	if err != nil {
		return false, err
	}
	if !tbl.Has(colReportedZIP) && !tbl.Has(colPropertyZIP) {
		return false, &domain.SchemaError{Source: source + "/" + name, Field: colReportedZIP, Detail: "missing column"}
	}
	if err := fn(tbl); err != nil {
		return false, err
	}
	return true, ctx.Err()
}

func zipOf(row tabular.Row) (string, bool) {
	if z, ok := row.ZIP(colReportedZIP); ok {
		return z, true
	}
	return row.ZIP(colPropertyZIP)
}

func (r *Reader) readClaims(ctx context.Context, tbl *tabular.Table, wanted map[string]bool, years domain.YearRange, get func(domain.Key) *aggregate) error {
	for {
		row, err := tbl.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if row.Line()%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		zip, ok := zipOf(row)
		if !ok || !wanted[zip] {
			continue
		}
		year, err := row.Int(colYearOfLoss)
		if err != nil {
			return err
		}
		if !years.Contains(year) {
			continue
		}
		building, err := row.Decimal(colBuilding)
		if err != nil {
			return err
		}
		contents, err := row.Decimal(colContents)
		if err != nil {
			return err
		}
		a := get(domain.Key{ZIP: zip, Year: year})
		a.claims++
		a.paid = a.paid.Add(building).Add(contents)
	}
}

func (r *Reader) readPolicies(ctx context.Context, tbl *tabular.Table, wanted map[string]bool, years domain.YearRange, get func(domain.Key) *aggregate) error {
	for {
		row, err := tbl.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if row.Line()%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		zip, ok := zipOf(row)
		if !ok || !wanted[zip] {
			continue
		}
		year, err := effectiveYear(row)
		if err != nil {
			return err
		}
		if !years.Contains(year) {
			continue
		}
		premium, err := row.Decimal(colPremium)
		if err != nil {
			return err
		}
		a := get(domain.Key{ZIP: zip, Year: year})
		a.policies++
		a.premium = a.premium.Add(premium)
	}
}

// effectiveYear reads the year prefix of an ISO date or timestamp.
func effectiveYear(row tabular.Row) (int, error) {
	s := row.String(colEffective)
	if len(s) >= 4 {
		if y, err := strconv.Atoi(s[:4]); err == nil {
			return y, nil
		}
	}
	return 0, &domain.SchemaError{
		Source: source + "/" + policiesFile,
		Field:  colEffective,
		Detail: fmt.Sprintf("line %d: unparseable date %q", row.Line(), s),
	}
}
