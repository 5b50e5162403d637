package receipt

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const exportTimeFormat = "2006-01-02 15:04:05"

var exportHeader = []string{"Date", "Total", "Subtotal", "VAT %", "Service %", "Items Count", "People Count"}

func exportRow(r *Receipt) []string {
	return []string{
		r.Timestamp.Format(exportTimeFormat),
		r.Total.StringFixed(2),
		r.Subtotal.StringFixed(2),
		r.VATPercentage.StringFixed(2),
		r.ServicePercentage.StringFixed(2),
		strconv.Itoa(len(r.Items)),
		strconv.Itoa(len(r.People)),
	}
}

// ExportCSV writes one row per receipt after a header row
func ExportCSV(w io.Writer, receipts []*Receipt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range receipts {
		if err := cw.Write(exportRow(r)); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// ExportXLSX returns a workbook with a Receipts sheet holding the same
// columns as ExportCSV, amounts as numbers, and a People sheet with each
// person's final amount per receipt.
func ExportXLSX(receipts []*Receipt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Receipts"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	for i, h := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	for n, r := range receipts {
		row := n + 2
		values := []any{
			r.Timestamp.Format(exportTimeFormat),
			r.Total.InexactFloat64(),
			r.Subtotal.InexactFloat64(),
			r.VATPercentage.InexactFloat64(),
			r.ServicePercentage.InexactFloat64(),
			len(r.Items),
			len(r.People),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("writing row %d: %w", row, err)
			}
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "G", 12)

	if err := writePeopleSheet(f, receipts); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writePeopleSheet(f *excelize.File, receipts []*Receipt) error {
	const sheet = "People"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	write := func(col, row int, v any) error {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		return f.SetCellValue(sheet, cell, v)
	}

	for i, h := range []string{"Receipt", "Date", "Person", "Items", "VAT", "Service", "Amount"} {
		if err := write(i+1, 1, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	row := 2
	for _, r := range receipts {
		for _, split := range CalculateSplits(r) {
			values := []any{
				r.ID,
				r.Timestamp.Format(exportTimeFormat),
				split.Person.Name,
				split.ItemTotal.Round(2).InexactFloat64(),
				split.VATShare.InexactFloat64(),
				split.ServiceShare.InexactFloat64(),
				split.FinalAmount.InexactFloat64(),
			}
			for col, v := range values {
				if err := write(col+1, row, v); err != nil {
					return fmt.Errorf("writing row %d: %w", row, err)
				}
			}
			row++
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "C", 20)
	return nil
}
