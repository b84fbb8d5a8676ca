// Package gormstore 用 Gorm + SQLite 实现 store.TradeStore。
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sotrader/internal/store"
	storemodel "sotrader/internal/store/model"
)

type tradeModel = storemodel.TradeModel
type shadowModel = storemodel.ShadowTradeModel

// GormStore implements trade and shadow storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.TradeStore = (*GormStore)(nil)

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &shadowModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) LogEntry(ctx context.Context, rec store.TradeRecord) (int64, error) {
	openedAt := rec.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}
	row := toTradeModel(rec)
	row.ID = 0
	row.Status = storemodel.TradeStatusOpen
	row.OpenedAtUnix = openedAt.Unix()
	fillSessionFlags(&row, openedAt)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *GormStore) LogExit(ctx context.Context, id int64, exitPrice, pnlPct, pnlUSD float64, reason string) error {
	res := s.db.WithContext(ctx).Model(&tradeModel{}).
		Where("id = ? AND status = ?", id, storemodel.TradeStatusOpen).
		Updates(map[string]interface{}{
			"exit_price":  exitPrice,
			"pnl_pct":     pnlPct,
			"pnl_usd":     pnlUSD,
			"exit_reason": reason,
			"status":      storemodel.TradeStatusClosed,
			"closed_at":   time.Now().UTC().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("gorm store: 未找到未平仓交易 #%d", id)
	}
	return nil
}

func (s *GormStore) FindOpenTrade(ctx context.Context, symbol, side string) (*store.TradeRecord, error) {
	var row tradeModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND side = ? AND status = ?", symbol, side, storemodel.TradeStatusOpen).
		Order("opened_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := fromTradeModel(row)
	return &rec, nil
}

func (s *GormStore) OpenTrades(ctx context.Context) ([]store.TradeRecord, error) {
	var rows []tradeModel
	err := s.db.WithContext(ctx).
		Where("status = ?", storemodel.TradeStatusOpen).
		Order("opened_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTradeModel(row))
	}
	return out, nil
}

func (s *GormStore) RecentTrades(ctx context.Context, limit int) ([]store.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []tradeModel
	err := s.db.WithContext(ctx).
		Order("opened_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.TradeRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromTradeModel(row))
	}
	return out, nil
}

func (s *GormStore) SymbolStats(ctx context.Context, symbol string) (store.SymbolStats, error) {
	type aggRow struct {
		Wins  int64 `gorm:"column:wins"`
		Total int64 `gorm:"column:total"`
	}
	var agg aggRow
	err := s.db.WithContext(ctx).Model(&tradeModel{}).
		Select("COUNT(CASE WHEN pnl_usd > 0 THEN 1 END) AS wins, COUNT(*) AS total").
		Where("symbol = ? AND status = ?", symbol, storemodel.TradeStatusClosed).
		Scan(&agg).Error
	if err != nil {
		return store.SymbolStats{}, err
	}
	return store.SymbolStats{Wins: int(agg.Wins), Total: int(agg.Total)}, nil
}

func (s *GormStore) LogShadow(ctx context.Context, rec store.ShadowTrade) error {
	openedAt := rec.OpenedAt
	if openedAt.IsZero() {
		openedAt = time.Now().UTC()
	}
	row := shadowModel{
		ID:           rec.ID,
		Symbol:       rec.Symbol,
		Side:         rec.Side,
		EntryPrice:   rec.EntryPrice,
		StopLoss:     rec.StopLoss,
		TakeProfit:   rec.TakeProfit,
		Score:        rec.Score,
		Reason:       rec.Reason,
		Status:       storemodel.ShadowStatusOpen,
		OpenedAtUnix: openedAt.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) OpenShadows(ctx context.Context) ([]store.ShadowTrade, error) {
	var rows []shadowModel
	err := s.db.WithContext(ctx).
		Where("status = ?", storemodel.ShadowStatusOpen).
		Order("opened_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.ShadowTrade, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromShadowModel(row))
	}
	return out, nil
}

func (s *GormStore) CloseShadow(ctx context.Context, id string, exitPrice float64, outcome string) error {
	status := storemodel.ShadowStatusLoss
	if outcome == "WIN" {
		status = storemodel.ShadowStatusWin
	}
	res := s.db.WithContext(ctx).Model(&shadowModel{}).
		Where("id = ? AND status = ?", id, storemodel.ShadowStatusOpen).
		Updates(map[string]interface{}{
			"exit_price": exitPrice,
			"status":     status,
			"closed_at":  time.Now().UTC().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("gorm store: 影子单 %s 不存在或已终结", id)
	}
	return nil
}

func (s *GormStore) Summarize(ctx context.Context) (store.Summary, error) {
	var sum store.Summary
	type tradeAgg struct {
		Open   int64   `gorm:"column:open_count"`
		Closed int64   `gorm:"column:closed_count"`
		Wins   int64   `gorm:"column:wins"`
		Losses int64   `gorm:"column:losses"`
		PnLUSD float64 `gorm:"column:total_pnl"`
	}
	var ta tradeAgg
	err := s.db.WithContext(ctx).Model(&tradeModel{}).
		Select(`COUNT(CASE WHEN status = ? THEN 1 END) AS open_count,
			COUNT(CASE WHEN status = ? THEN 1 END) AS closed_count,
			COUNT(CASE WHEN status = ? AND pnl_usd > 0 THEN 1 END) AS wins,
			COUNT(CASE WHEN status = ? AND pnl_usd <= 0 THEN 1 END) AS losses,
			COALESCE(SUM(CASE WHEN status = ? THEN pnl_usd ELSE 0 END), 0) AS total_pnl`,
			storemodel.TradeStatusOpen, storemodel.TradeStatusClosed,
			storemodel.TradeStatusClosed, storemodel.TradeStatusClosed,
			storemodel.TradeStatusClosed).
		Scan(&ta).Error
	if err != nil {
		return sum, err
	}
	sum.OpenTrades = int(ta.Open)
	sum.ClosedTrades = int(ta.Closed)
	sum.WinCount = int(ta.Wins)
	sum.LossCount = int(ta.Losses)
	sum.TotalPnLUSD = ta.PnLUSD

	type shadowAgg struct {
		Open   int64 `gorm:"column:open_count"`
		Wins   int64 `gorm:"column:wins"`
		Losses int64 `gorm:"column:losses"`
	}
	var sa shadowAgg
	err = s.db.WithContext(ctx).Model(&shadowModel{}).
		Select("COUNT(CASE WHEN status = ? THEN 1 END) AS open_count, COUNT(CASE WHEN status = ? THEN 1 END) AS wins, COUNT(CASE WHEN status = ? THEN 1 END) AS losses",
			storemodel.ShadowStatusOpen, storemodel.ShadowStatusWin, storemodel.ShadowStatusLoss).
		Scan(&sa).Error
	if err != nil {
		return sum, err
	}
	sum.OpenShadows = int(sa.Open)
	sum.ShadowWins = int(sa.Wins)
	sum.ShadowLosses = int(sa.Losses)
	return sum, nil
}

func toTradeModel(rec store.TradeRecord) tradeModel {
	row := tradeModel{
		ID:          rec.ID,
		Symbol:      rec.Symbol,
		Side:        rec.Side,
		EntryPrice:  rec.EntryPrice,
		StopLoss:    rec.StopLoss,
		TakeProfit:  rec.TakeProfit,
		TakeProfit2: rec.TakeProfit2,
		Qty:         rec.Qty,
		Leverage:    rec.Leverage,
		Margin:      rec.Margin,
		Score:       rec.Score,
		Confidence:  rec.Confidence,
		ExitPrice:   rec.ExitPrice,
		ExitReason:  rec.ExitReason,
		PnLPct:      rec.PnLPct,
		PnLUSD:      rec.PnLUSD,
	}
	if len(rec.Indicators) > 0 {
		if raw, err := json.Marshal(rec.Indicators); err == nil {
			row.IndicatorsJSON = datatypes.JSON(raw)
		}
	}
	return row
}

func fromTradeModel(row tradeModel) store.TradeRecord {
	rec := store.TradeRecord{
		ID:          row.ID,
		Symbol:      row.Symbol,
		Side:        row.Side,
		EntryPrice:  row.EntryPrice,
		StopLoss:    row.StopLoss,
		TakeProfit:  row.TakeProfit,
		TakeProfit2: row.TakeProfit2,
		Qty:         row.Qty,
		Leverage:    row.Leverage,
		Margin:      row.Margin,
		Score:       row.Score,
		Confidence:  row.Confidence,
		ExitPrice:   row.ExitPrice,
		ExitReason:  row.ExitReason,
		PnLPct:      row.PnLPct,
		PnLUSD:      row.PnLUSD,
		Open:        row.Status == storemodel.TradeStatusOpen,
	}
	if len(row.IndicatorsJSON) > 0 {
		_ = json.Unmarshal(row.IndicatorsJSON, &rec.Indicators)
	}
	if row.OpenedAtUnix > 0 {
		rec.OpenedAt = time.Unix(row.OpenedAtUnix, 0).UTC()
	}
	if row.ClosedAtUnix > 0 {
		rec.ClosedAt = time.Unix(row.ClosedAtUnix, 0).UTC()
	}
	return rec
}

func fromShadowModel(row shadowModel) store.ShadowTrade {
	rec := store.ShadowTrade{
		ID:         row.ID,
		Symbol:     row.Symbol,
		Side:       row.Side,
		EntryPrice: row.EntryPrice,
		StopLoss:   row.StopLoss,
		TakeProfit: row.TakeProfit,
		Score:      row.Score,
		Reason:     row.Reason,
		ExitPrice:  row.ExitPrice,
	}
	switch row.Status {
	case storemodel.ShadowStatusWin:
		rec.Outcome = "WIN"
	case storemodel.ShadowStatusLoss:
		rec.Outcome = "LOSS"
	}
	if row.OpenedAtUnix > 0 {
		rec.OpenedAt = time.Unix(row.OpenedAtUnix, 0).UTC()
	}
	if row.ClosedAtUnix > 0 {
		rec.ClosedAt = time.Unix(row.ClosedAtUnix, 0).UTC()
	}
	return rec
}

// fillSessionFlags 记录入场时刻的 UTC 时段画像。
// 亚盘 0-8,欧盘 8-16,美盘 13-21,美盘与欧盘有重叠。
func fillSessionFlags(row *tradeModel, at time.Time) {
	utc := at.UTC()
	hour := utc.Hour()
	row.EntryHour = hour
	row.EntryWeekday = int(utc.Weekday())
	row.AsianSession = hour >= 0 && hour < 8
	row.LondonSession = hour >= 8 && hour < 16
	row.NYSession = hour >= 13 && hour < 21
}
