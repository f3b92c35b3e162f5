// internal/sheets/sync.go
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"shopdesk/internal/common/config"
	apperrors "shopdesk/internal/common/errors"
	"shopdesk/internal/common/logger"
	"shopdesk/internal/common/metrics"
	"shopdesk/internal/models"
)

var ErrDisabled = errors.New("SHEETS_SYNC_DISABLED")

// Header is the column layout of the bookkeeping sheet.
var Header = []interface{}{"Mã đơn", "Ngày tạo", "Khách hàng", "SĐT", "Sản phẩm", "Tổng tiền", "Trạng thái", "Mã vận đơn"}

// OrderSource is the part of the order store the syncer needs.
type OrderSource interface {
	ListUnsynced(ctx context.Context, limit int) ([]models.Order, error)
	MarkSynced(ctx context.Context, ids []string, at time.Time) error
}

// Syncer appends orders to the bookkeeping spreadsheet.
type Syncer struct {
	svc           *gsheets.Service
	spreadsheetID string
	rng           string
	orders        OrderSource
	logger        logger.Logger
	loc           *time.Location
}

// NewSyncer builds the Sheets service from the configured credentials.
// Extra client options (endpoint, HTTP client) are passed through.
func NewSyncer(ctx context.Context, cfg config.SheetsConfig, orders OrderSource, log logger.Logger, opts ...option.ClientOption) (*Syncer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.CredentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, opts...)
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	if log == nil {
		log = logger.NewNoOpLogger()
	}
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		loc = time.FixedZone("ICT", 7*3600)
	}

	return &Syncer{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		rng:           cfg.OrdersRange,
		orders:        orders,
		logger:        log.WithFields(map[string]interface{}{"component": "sheets-sync"}),
		loc:           loc,
	}, nil
}

// Row renders one order as a sheet row.
func (s *Syncer) Row(o models.Order) []interface{} {
	items := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		desc := it.Name
		if it.Size != "" || it.Color != "" {
			desc += " (" + strings.Trim(it.Size+" "+it.Color, " ") + ")"
		}
		items = append(items, fmt.Sprintf("%s x%d", desc, it.Quantity))
	}
	return []interface{}{
		o.ID,
		o.CreatedAt.In(s.loc).Format("02/01/2006 15:04"),
		o.CustomerName,
		// leading apostrophe keeps the leading zero of the phone number
		"'" + o.Phone,
		strings.Join(items, "; "),
		o.Total,
		string(o.Status),
		o.TrackingCode,
	}
}

// Append writes the given orders and returns the number of rows the API
// reported as updated.
func (s *Syncer) Append(ctx context.Context, orders []models.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}

	values := make([][]interface{}, 0, len(orders))
	for _, o := range orders {
		values = append(values, s.Row(o))
	}

	resp, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, apperrors.NewSheetsSyncFailedError(err)
	}

	rows := len(orders)
	if resp.Updates != nil && resp.Updates.UpdatedRows > 0 {
		rows = int(resp.Updates.UpdatedRows)
	}
	metrics.SheetsRowsSynced.Add(float64(rows))
	return rows, nil
}

// SyncOrders appends every order not yet synced (up to limit) and stamps
// them as synced.
func (s *Syncer) SyncOrders(ctx context.Context, limit int) (int, error) {
	pending, err := s.orders.ListUnsynced(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	n, err := s.Append(ctx, pending)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(pending))
	for i, o := range pending {
		ids[i] = o.ID
	}
	if err := s.orders.MarkSynced(ctx, ids, time.Now().UTC()); err != nil {
		// rows are already in the sheet; the next run would duplicate them
		s.logger.Error("orders appended but not marked synced", map[string]interface{}{
			"error":  err,
			"orders": ids,
		})
		return n, err
	}

	s.logger.Info("orders synced to sheet", map[string]interface{}{"rows": n})
	return n, nil
}
