// Package sqlite persists quotes, opportunities, and candles for the scanner
// and serves them back for top-mover queries and sandbox replay.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/archserver/vbtrader-sub001/internal/model"
	"github.com/archserver/vbtrader-sub001/internal/provider"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to the database file, e.g. "data/scanner.db"
}

// Store is a single-writer SQLite store with transaction-batched inserts.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quotes (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			last       INTEGER NOT NULL,
			bid        INTEGER,
			ask        INTEGER,
			high       INTEGER,
			low        INTEGER,
			open       INTEGER,
			prev_close INTEGER,
			volume     INTEGER,
			float      INTEGER,
			market_cap INTEGER,
			pre_market INTEGER NOT NULL DEFAULT 0,
			news       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS opportunities (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol           TEXT    NOT NULL,
			ts               INTEGER NOT NULL,
			type             TEXT    NOT NULL,
			score            REAL    NOT NULL,
			volume_change    INTEGER,
			price_change_pct REAL,
			news             INTEGER,
			confidence       REAL,
			reason           TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_opportunities_ts ON opportunities (ts);

		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   INTEGER NOT NULL,
			high   INTEGER NOT NULL,
			low    INTEGER NOT NULL,
			close  INTEGER NOT NULL,
			volume INTEGER,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WriteQuotesBatch inserts a poll cycle's quotes in one transaction.
func (s *Store) WriteQuotesBatch(quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO quotes
			(symbol, ts, last, bid, ask, high, low, open, prev_close, volume, float, market_cap, pre_market, news)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, q := range quotes {
		pre := 0
		if q.PreMarket {
			pre = 1
		}
		if _, err := stmt.Exec(q.Symbol, q.TS.Unix(), q.Last, q.Bid, q.Ask, q.High, q.Low,
			q.Open, q.PrevClose, q.Volume, q.Float, q.MarketCap, pre, int(q.News)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// WriteOpportunity appends one scored opportunity.
func (s *Store) WriteOpportunity(opp model.Opportunity) error {
	_, err := s.db.Exec(`
		INSERT INTO opportunities (symbol, ts, type, score, volume_change, price_change_pct, news, confidence, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, opp.Symbol, opp.TS.Unix(), string(opp.Type), opp.Score, opp.VolumeChange,
		opp.PriceChangePct, int(opp.News), opp.Confidence, opp.Reason)
	return err
}

// ReadTopMovers returns the latest stored quote per symbol for the given
// session (pre-market or regular), ranked by the sort order.
func (s *Store) ReadTopMovers(n int, preMarket bool, order provider.SortOrder) ([]model.Quote, error) {
	rank := "q.volume DESC"
	switch order {
	case provider.SortByPercentUp:
		rank = "CASE WHEN q.prev_close > 0 THEN CAST(q.last - q.prev_close AS REAL) / q.prev_close ELSE 0 END DESC"
	case provider.SortByPercentDown:
		rank = "CASE WHEN q.prev_close > 0 THEN CAST(q.last - q.prev_close AS REAL) / q.prev_close ELSE 0 END ASC"
	}
	pre := 0
	if preMarket {
		pre = 1
	}

	rows, err := s.db.Query(`
		SELECT q.symbol, q.ts, q.last, q.bid, q.ask, q.high, q.low, q.open, q.prev_close,
		       q.volume, q.float, q.market_cap, q.pre_market, q.news
		FROM quotes q
		JOIN (
			SELECT symbol, MAX(ts) AS max_ts FROM quotes WHERE pre_market = ? GROUP BY symbol
		) latest ON q.symbol = latest.symbol AND q.ts = latest.max_ts
		WHERE q.pre_market = ?
		ORDER BY `+rank+`
		LIMIT ?
	`, pre, pre, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query top movers: %w", err)
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var tsUnix int64
		var preFlag, news int
		if err := rows.Scan(&q.Symbol, &tsUnix, &q.Last, &q.Bid, &q.Ask, &q.High, &q.Low,
			&q.Open, &q.PrevClose, &q.Volume, &q.Float, &q.MarketCap, &preFlag, &news); err != nil {
			return nil, fmt.Errorf("sqlite scan quote: %w", err)
		}
		q.TS = time.Unix(tsUnix, 0).UTC()
		q.PreMarket = preFlag != 0
		q.News = model.NewsRating(news)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// WriteCandles inserts candles in one transaction (replace on conflict).
func (s *Store) WriteCandles(candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Symbol, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ReadCandles returns candles for one symbol in [from, to], ascending by
// timestamp for correct replay order.
func (s *Store) ReadCandles(symbol string, from, to time.Time) ([]model.Candle, error) {
	rows, err := s.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&c.Symbol, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// DeleteOlderThan removes quotes, opportunities, and candles older than the
// cutoff. Returns total rows deleted.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"quotes", "opportunities", "candles"} {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE ts < ?`, cutoff.Unix())
		if err != nil {
			return total, fmt.Errorf("sqlite delete from %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}
