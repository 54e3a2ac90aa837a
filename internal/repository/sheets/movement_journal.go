package sheets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/repository"
)

// MovementJournal mirrors stock movements into a spreadsheet so the back-office can follow
// them without database access. It implements repository.MovementRecorder.
type MovementJournal struct {
	service        *sheetsapi.Service
	spreadsheetID  string
	movementsRange string
	logger         *zap.Logger
}

var _ repository.MovementRecorder = (*MovementJournal)(nil)

// NewMovementJournal builds a Google Sheets backed journal. Extra client options are appended
// after the credentials.
func NewMovementJournal(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger, opts ...option.ClientOption) (*MovementJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if cfg.CredentialsPath != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	sheetRange := cfg.MovementsRange
	if sheetRange == "" {
		sheetRange = "Movements!A:K"
	}

	return &MovementJournal{
		service:        service,
		spreadsheetID:  cfg.SpreadsheetID,
		movementsRange: sheetRange,
		logger:         logger,
	}, nil
}

// Record appends one movement as a row.
func (j *MovementJournal) Record(ctx context.Context, movement models.StockMovement) error {
	return j.WriteRow(ctx, j.movementsRange, movementRow(movement))
}

// WriteRow appends the provided values to the supplied sheet range.
func (j *MovementJournal) WriteRow(ctx context.Context, sheetRange string, values []interface{}) error {
	if sheetRange == "" {
		return fmt.Errorf("sheetRange must not be empty")
	}

	payload := &sheetsapi.ValueRange{Values: [][]interface{}{values}}

	call := j.service.Spreadsheets.Values.Append(j.spreadsheetID, sheetRange, payload).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append row into range %s: %w", sheetRange, err)
	}

	j.logger.Debug("row appended to sheet", zap.String("range", sheetRange))
	return nil
}

// movementRow lays a movement out as: date, item id, code, kind, quantity, unit cost,
// unit selling price, balance quantity, balance cost, transaction ref, actor.
func movementRow(m models.StockMovement) []interface{} {
	return []interface{}{
		m.At.UTC().Format(time.RFC3339),
		m.ItemID.Hex(),
		m.ItemCode,
		string(m.Kind),
		m.Quantity,
		m.UnitCost,
		m.UnitSellingPrice,
		m.BalanceQty,
		m.BalanceCost,
		m.TransactionRef,
		m.Actor,
	}
}
