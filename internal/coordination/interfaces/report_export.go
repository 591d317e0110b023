package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	coordination "dr-coordinator/internal/coordination/domain"
	dispatch "dr-coordinator/internal/dispatch/domain"
)

const (
	summarySheet  = "summary"
	progressSheet = "progress"
	dispatchSheet = "dispatch"
)

// BuildEventReportPDF renders a one-page event report.
func BuildEventReportPDF(run *coordination.Run, records []dispatch.Record) ([]byte, error) {
	if run == nil {
		return nil, fmt.Errorf("event report: nil run")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Demand Response Event Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, line := range summaryLines(run) {
		pdf.Cell(0, 6, line[0]+": "+line[1])
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Event time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Observed power", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Response level", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, sample := range run.Progress {
		pdf.CellFormat(40, 6, sample.EventTime.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.2f", sample.ObservedPower), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%d", sample.Level), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(records) > 0 {
		pdf.Ln(4)
		pdf.Cell(0, 6, fmt.Sprintf("Dispatch records: %d (backup overrides: %d, undelivered: %d)",
			len(records), countBackups(records), countUndelivered(records)))
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEventReportXLSX renders the run summary, progress and dispatch log sheets.
func BuildEventReportXLSX(run *coordination.Run, records []dispatch.Record) ([]byte, error) {
	if run == nil {
		return nil, fmt.Errorf("event report: nil run")
	}
	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(progressSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(dispatchSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Demand Response Event Report")
	for i, line := range summaryLines(run) {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), line[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), line[1])
	}

	_ = f.SetCellValue(progressSheet, "A1", "Event time (s)")
	_ = f.SetCellValue(progressSheet, "B1", "Observed power")
	_ = f.SetCellValue(progressSheet, "C1", "Response level")
	for i, sample := range run.Progress {
		row := i + 2
		_ = f.SetCellValue(progressSheet, fmt.Sprintf("A%d", row), sample.EventTime.Seconds())
		_ = f.SetCellValue(progressSheet, fmt.Sprintf("B%d", row), sample.ObservedPower)
		_ = f.SetCellValue(progressSheet, fmt.Sprintf("C%d", row), sample.Level)
	}

	headers := []string{"Batch time", "Device", "Room temp", "Room setpoint", "Requested action", "Action", "Setpoint", "Backup", "Delivered", "Error"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(dispatchSheet, cell, header)
	}
	for i, rec := range records {
		values := []any{
			rec.BatchTime.Format(time.RFC3339), rec.DeviceID, rec.RoomTemp, rec.SetpointTemp,
			int(rec.RequestedAction), int(rec.Action), rec.MappedSetpoint, rec.BackupDirection,
			rec.Delivered, rec.Error,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(dispatchSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func summaryLines(run *coordination.Run) [][2]string {
	lines := [][2]string{
		{"Event", run.ID},
		{"Status", string(run.Status)},
		{"Outcome", string(run.Outcome)},
		{"Duration", run.Duration.String()},
		{"Power delta", fmt.Sprintf("%.2f", run.PowerDelta)},
		{"Baseline power", fmt.Sprintf("%.2f", run.BaselinePower)},
		{"Target power", fmt.Sprintf("%.2f", run.Target)},
		{"Level range", fmt.Sprintf("[%d, %d]", run.MinLevel, run.MaxLevel)},
	}
	if !run.StartedAt.IsZero() {
		lines = append(lines, [2]string{"Started", run.StartedAt.Format(time.RFC3339)})
	}
	if !run.FinishedAt.IsZero() {
		lines = append(lines, [2]string{"Finished", run.FinishedAt.Format(time.RFC3339)})
	}
	if run.Error != "" {
		lines = append(lines, [2]string{"Error", run.Error})
	}
	return lines
}

func countBackups(records []dispatch.Record) int {
	n := 0
	for _, rec := range records {
		if rec.BackupTriggered {
			n++
		}
	}
	return n
}

func countUndelivered(records []dispatch.Record) int {
	n := 0
	for _, rec := range records {
		if !rec.Delivered {
			n++
		}
	}
	return n
}
