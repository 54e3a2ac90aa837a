package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"google.golang.org/api/option"

	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/domain/models"
)

func TestRecordAppendsMovementRow(t *testing.T) {
	var (
		path string
		body struct {
			Values [][]interface{} `json:"values"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	journal, err := NewMovementJournal(context.Background(),
		config.SheetsConfig{SpreadsheetID: "sheet-1"},
		nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	itemID := primitive.NewObjectID()
	err = journal.Record(context.Background(), models.StockMovement{
		ItemID:         itemID,
		ItemCode:       "SODA",
		Kind:           models.MovementSale,
		Quantity:       -5,
		UnitCost:       10,
		BalanceQty:     0,
		TransactionRef: "SAL-1",
		Actor:          "amadou",
		At:             time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	require.True(t, strings.Contains(path, "/spreadsheets/sheet-1/values/"), path)
	require.True(t, strings.HasSuffix(path, ":append"), path)
	require.Len(t, body.Values, 1)
	row := body.Values[0]
	require.Len(t, row, 11)
	require.Equal(t, "2026-01-02T03:04:05Z", row[0])
	require.Equal(t, itemID.Hex(), row[1])
	require.Equal(t, "sale", row[3])
	require.EqualValues(t, -5, row[4])
	require.Equal(t, "SAL-1", row[9])
}

func TestWriteRowRequiresRange(t *testing.T) {
	journal := &MovementJournal{}
	require.Error(t, journal.WriteRow(context.Background(), "", nil))
}
