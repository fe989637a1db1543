package sheets

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/googleauth"
	"invoice-relay-go/internal/model"
)

// Reporter writes run reports to the CONTROL worksheet. Each run is inserted
// directly under the header so the newest batch reads first; older rows shift
// down. A run with zero rows is not written at all.
type Reporter struct {
	service       *sheets.Service
	spreadsheetID string
	worksheet     string
}

// NewReporter creates a new spreadsheet reporter
func NewReporter(cfg *config.GmailConfig, sheetsCfg config.SheetsConfig) (*Reporter, error) {
	ctx := context.Background()

	tokenSource := googleauth.TokenSource(ctx, cfg, sheets.SpreadsheetsScope)

	service, err := sheets.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}

	return &Reporter{
		service:       service,
		spreadsheetID: sheetsCfg.SpreadsheetID,
		worksheet:     sheetsCfg.Worksheet,
	}, nil
}

// PublishReport writes one row per processed message, in processing order.
func (r *Reporter) PublishReport(ctx context.Context, report *model.RunReport) error {
	if len(report.Rows) == 0 {
		logrus.Info("Run produced no rows, skipping report write")
		return nil
	}

	values := make([][]interface{}, 0, len(report.Rows))
	for _, row := range report.Rows {
		values = append(values, row.Values())
	}

	empty, err := r.worksheetEmpty(ctx)
	if err != nil {
		return err
	}

	if empty {
		// First run on a fresh worksheet: header plus rows.
		data := append([][]interface{}{model.ReportHeader()}, values...)
		return r.writeRange(ctx, fmt.Sprintf("%s!A1", r.worksheet), data)
	}

	if err := r.insertRows(ctx, len(values)); err != nil {
		return err
	}
	return r.writeRange(ctx, fmt.Sprintf("%s!A2", r.worksheet), values)
}

// worksheetEmpty checks whether any run has been recorded below the header.
func (r *Reporter) worksheetEmpty(ctx context.Context) (bool, error) {
	resp, err := r.service.Spreadsheets.Values.Get(r.spreadsheetID, fmt.Sprintf("%s!A2:A2", r.worksheet)).
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("failed to read worksheet %s: %w", r.worksheet, err)
	}
	return len(resp.Values) == 0, nil
}

// insertRows shifts existing data down to make room under the header.
func (r *Reporter) insertRows(ctx context.Context, count int) error {
	sheetID, err := r.sheetID(ctx)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			InsertDimension: &sheets.InsertDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: 1,
					EndIndex:   int64(1 + count),
				},
				InheritFromBefore: false,
			},
		}},
	}

	if _, err := r.service.Spreadsheets.BatchUpdate(r.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to insert %d rows: %w", count, err)
	}
	return nil
}

// sheetID resolves the numeric id of the configured worksheet.
func (r *Reporter) sheetID(ctx context.Context) (int64, error) {
	spreadsheet, err := r.service.Spreadsheets.Get(r.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == r.worksheet {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("worksheet %s not found in spreadsheet", r.worksheet)
}

func (r *Reporter) writeRange(ctx context.Context, rangeName string, values [][]interface{}) error {
	body := &sheets.ValueRange{Values: values}
	_, err := r.service.Spreadsheets.Values.Update(r.spreadsheetID, rangeName, body).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", rangeName, err)
	}
	logrus.Infof("Report written: %d rows at %s", len(values), rangeName)
	return nil
}
