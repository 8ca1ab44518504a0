package service

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/sumire/proposals/internal/domain"
)

const exportSheet = "Proposals"

var exportHeaders = []string{
	"Job ID",
	"Title",
	"File",
	"Owner",
	"Email",
	"Status",
	"Stage",
	"Overall Score",
	"Novelty",
	"Technical Merit",
	"Feasibility",
	"Financial Viability",
	"Impact",
	"Summary",
	"Error",
	"Submitted",
	"Updated",
}

// ExportXLSX renders proposals as a single-sheet workbook, one row per proposal.
func ExportXLSX(rows []domain.ProposalWithOwner) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for i, p := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}

		write(1, p.JobID)
		write(2, p.Title)
		write(3, p.FileName)
		write(4, p.UserName)
		write(5, p.UserEmail)
		write(6, string(p.Status))
		write(7, string(p.CurrentStage))
		if a := p.Analysis; a != nil {
			write(8, a.OverallScore)
			write(9, a.Scores.Novelty)
			write(10, a.Scores.TechnicalMerit)
			write(11, a.Scores.Feasibility)
			write(12, a.Scores.FinancialViability)
			write(13, a.Scores.Impact)
			write(14, a.Summary)
		}
		if p.ErrorMessage != nil {
			write(15, *p.ErrorMessage)
		}
		write(16, p.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		write(17, p.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 36)
	_ = f.SetColWidth(exportSheet, "B", "B", 40)
	_ = f.SetColWidth(exportSheet, "C", "E", 24)
	_ = f.SetColWidth(exportSheet, "H", "M", 12)
	_ = f.SetColWidth(exportSheet, "N", "O", 60)
	_ = f.SetColWidth(exportSheet, "P", "Q", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
