// internal/service/inventory/application/tabular.go
package application

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// 导入导出的列序是对外契约，与外部表格工具对齐
var tabularHeader = []string{"serial", "variant_id", "batch_id", "supplier", "warranty_from", "warranty_to"}

const tabularDateLayout = "2006-01-02"

// UnitRow 是外部表格格式中的一行
type UnitRow struct {
	Serial       string
	VariantID    uint64
	BatchID      string
	Supplier     string
	WarrantyFrom *time.Time
	WarrantyTo   *time.Time
}

// ReadUnitRows 解析外部表格字节流。
// 返回全部可解析的行；格式级错误（列数、类型）以行号记录在 failures 中，不中断解析。
func ReadUnitRows(r io.Reader) ([]UnitRow, []ItemFailure, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(tabularHeader)
	reader.TrimLeadingSpace = true

	var rows []UnitRow
	var failures []ItemFailure
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			failures = append(failures, ItemFailure{Row: line, Reason: err.Error()})
			continue
		}
		if line == 1 && record[0] == tabularHeader[0] {
			continue // 表头行
		}
		row, perr := parseUnitRow(record)
		if perr != nil {
			failures = append(failures, ItemFailure{Row: line, Serial: record[0], Reason: perr.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, failures, nil
}

func parseUnitRow(record []string) (UnitRow, error) {
	if record[0] == "" {
		return UnitRow{}, fmt.Errorf("serial is required")
	}
	variantID, err := strconv.ParseUint(record[1], 10, 64)
	if err != nil || variantID == 0 {
		return UnitRow{}, fmt.Errorf("invalid variant id %q", record[1])
	}
	row := UnitRow{
		Serial:    record[0],
		VariantID: variantID,
		BatchID:   record[2],
		Supplier:  record[3],
	}
	if record[4] != "" {
		t, err := time.Parse(tabularDateLayout, record[4])
		if err != nil {
			return UnitRow{}, fmt.Errorf("invalid warranty_from %q", record[4])
		}
		row.WarrantyFrom = &t
	}
	if record[5] != "" {
		t, err := time.Parse(tabularDateLayout, record[5])
		if err != nil {
			return UnitRow{}, fmt.Errorf("invalid warranty_to %q", record[5])
		}
		row.WarrantyTo = &t
	}
	return row, nil
}

// WriteUnitRows 把行序列化回同一外部表格格式
func WriteUnitRows(w io.Writer, rows []UnitRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tabularHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Serial,
			strconv.FormatUint(row.VariantID, 10),
			row.BatchID,
			row.Supplier,
			formatDate(row.WarrantyFrom),
			formatDate(row.WarrantyTo),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(tabularDateLayout)
}
