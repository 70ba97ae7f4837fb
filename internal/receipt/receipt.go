// Package receipt renders itemized quotes for people: plain text for chat and
// terminals, xlsx for the back office.
package receipt

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"quote-engine/internal/pricing"
)

const sheetName = "Quote"

type Receipt struct {
	Reference     string
	IssuedAt      time.Time
	Scheme        pricing.Scheme
	RateVersion   string
	Configuration pricing.ServiceConfiguration
	Result        pricing.PriceResult
	// Notice explains an enforced tier, if any.
	Notice string
}

const lineWidth = 44

// Text renders the receipt as fixed-width text.
func Text(r Receipt) string {
	var b strings.Builder
	rule := strings.Repeat("─", lineWidth)

	if r.Reference != "" {
		fmt.Fprintf(&b, "Quote %s\n", r.Reference)
	}
	if !r.IssuedAt.IsZero() {
		fmt.Fprintf(&b, "Issued: %s\n", r.IssuedAt.Format("2006-01-02 15:04"))
	}
	if r.RateVersion != "" {
		fmt.Fprintf(&b, "Rates: %s/%s\n", r.Scheme, r.RateVersion)
	}
	fmt.Fprintf(&b, "Service: %s, %s, paid %s\n",
		r.Configuration.Tier, r.Configuration.Frequency, r.Configuration.PaymentFrequency)
	if r.Notice != "" {
		fmt.Fprintf(&b, "Note: %s\n", r.Notice)
	}

	b.WriteString(rule + "\n")
	for _, item := range r.Result.Breakdown {
		writeLine(&b, item.Label, item.Value.StringFixed(2))
	}
	b.WriteString(rule + "\n")
	writeLine(&b, "Total", r.Result.Total.StringFixed(2))
	return b.String()
}

func writeLine(b *strings.Builder, label, amount string) {
	pad := lineWidth - len([]rune(label)) - len(amount)
	if pad < 1 {
		pad = 1
	}
	b.WriteString(label)
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteString(amount)
	b.WriteString("\n")
}

// WriteXLSX writes a one-sheet workbook: header, selections, breakdown, total.
func WriteXLSX(w io.Writer, r Receipt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	boldMoney, err := f.NewStyle(&excelize.Style{NumFmt: 2, Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	rows := [][]any{
		{"Reference", r.Reference},
		{"Issued", r.IssuedAt.Format("2006-01-02 15:04")},
		{"Rates", fmt.Sprintf("%s/%s", r.Scheme, r.RateVersion)},
		{"Tier", string(r.Configuration.Tier)},
		{"Cleanliness", r.Configuration.CleanlinessLevel},
		{"Frequency", string(r.Configuration.Frequency)},
		{"Payment", string(r.Configuration.PaymentFrequency)},
		{"Property", fmt.Sprintf("%s, %d sq ft", r.Configuration.PropertyType, r.Configuration.PropertySizeSqFt)},
		{"Rooms", formatRooms(r.Configuration.Rooms)},
	}
	if r.Notice != "" {
		rows = append(rows, []any{"Note", r.Notice})
	}

	row := 1
	for _, values := range rows {
		if err := setRow(f, row, values); err != nil {
			return err
		}
		row++
	}
	if err := f.SetCellStyle(sheetName, "A1", cell(1, row-1), bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	row++
	if err := setRow(f, row, []any{"Item", "Category", "Amount"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, cell(1, row), cell(3, row), bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	row++

	first := row
	for _, item := range r.Result.Breakdown {
		if err := setRow(f, row, []any{item.Label, string(item.Category), item.Value.InexactFloat64()}); err != nil {
			return err
		}
		row++
	}
	if row > first {
		if err := f.SetCellStyle(sheetName, cell(3, first), cell(3, row-1), money); err != nil {
			return fmt.Errorf("failed to style amounts: %w", err)
		}
	}

	if err := setRow(f, row, []any{"Total", "", r.Result.Total.InexactFloat64()}); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, cell(1, row), cell(3, row), boldMoney); err != nil {
		return fmt.Errorf("failed to style total: %w", err)
	}

	if err := f.SetColWidth(sheetName, "A", "A", 36); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(sheetName, "B", "C", 16); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []any) error {
	for col, v := range values {
		if err := f.SetCellValue(sheetName, cell(col+1, row), v); err != nil {
			return fmt.Errorf("failed to set %s: %w", cell(col+1, row), err)
		}
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func formatRooms(rooms map[string]int) string {
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s x%d", name, rooms[name]))
	}
	return strings.Join(parts, ", ")
}
