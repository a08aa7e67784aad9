package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/viktordrukker/telegram-bot-ui/internal/ads"
	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (and migrates) the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- advertisements ----

const adColumns = `id, user_id, title, content, media, price, target_bots, status, created_at, scheduled_for, completed_at`

func (s *sqliteStore) CreateAd(ctx context.Context, ad *ads.Advertisement) error {
	if ad.Status == "" {
		ad.Status = ads.StatusPending
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now()
	}
	media, err := json.Marshal(ad.Media)
	if err != nil {
		return err
	}
	targets, err := json.Marshal(ad.TargetBots)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO advertisements(user_id, title, content, media, price, target_bots, status, created_at, scheduled_for, completed_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		ad.UserID, ad.Title, ad.Content, string(media), ad.Price, string(targets),
		string(ad.Status), timeStr(ad.CreatedAt), nullTime(ad.ScheduledFor), nullTime(ad.CompletedAt),
	)
	if err != nil {
		return err
	}
	ad.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) GetAd(ctx context.Context, id int64) (*ads.Advertisement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adColumns+` FROM advertisements WHERE id = ?`, id)
	ad, err := scanAd(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("advertisement %d: %w", id, ads.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ad, nil
}

func (s *sqliteStore) ListAds(ctx context.Context, userID int64) ([]ads.Advertisement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+adColumns+` FROM advertisements WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAds(rows)
}

func (s *sqliteStore) DeleteAd(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM advertisements WHERE id = ? AND status != ?`, id, string(ads.StatusBroadcasting))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Nothing deleted: either absent or still broadcasting.
	if _, err := s.GetAd(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("advertisement %d is broadcasting: %w", id, ads.ErrConflict)
}

func (s *sqliteStore) Transition(ctx context.Context, id int64, from []ads.Status, to ads.Status, at time.Time) error {
	if len(from) == 0 {
		return errors.New("transition: empty from set")
	}
	args := make([]any, 0, len(from)+3)
	var completed any
	if to.Terminal() {
		completed = timeStr(at)
	}
	args = append(args, string(to), completed, id)
	ph := make([]string, 0, len(from))
	for _, st := range from {
		ph = append(ph, "?")
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE advertisements SET status = ?, completed_at = ? WHERE id = ? AND status IN (`+strings.Join(ph, ",")+`)`,
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	cur, err := s.GetAd(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("advertisement %d is %s, cannot enter %s: %w", id, cur.Status, to, ads.ErrConflict)
}

func (s *sqliteStore) DueAds(ctx context.Context, now time.Time) ([]ads.Advertisement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+adColumns+` FROM advertisements
		 WHERE status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		 ORDER BY scheduled_for`,
		string(ads.StatusPending), timeStr(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAds(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(r rowScanner) (*ads.Advertisement, error) {
	var (
		ad        ads.Advertisement
		media     string
		targets   string
		status    string
		created   string
		scheduled sql.NullString
		completed sql.NullString
	)
	err := r.Scan(&ad.ID, &ad.UserID, &ad.Title, &ad.Content, &media, &ad.Price,
		&targets, &status, &created, &scheduled, &completed)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(media), &ad.Media); err != nil {
		return nil, fmt.Errorf("decode media: %w", err)
	}
	if err := json.Unmarshal([]byte(targets), &ad.TargetBots); err != nil {
		return nil, fmt.Errorf("decode target_bots: %w", err)
	}
	ad.Status = ads.Status(status)
	ad.CreatedAt = parseTime(created)
	ad.ScheduledFor = parseNullTime(scheduled)
	ad.CompletedAt = parseNullTime(completed)
	return &ad, nil
}

func collectAds(rows *sql.Rows) ([]ads.Advertisement, error) {
	var out []ads.Advertisement
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ad)
	}
	return out, rows.Err()
}

// ---- bots ----

const botColumns = `id, user_id, token, name, status, created_at, last_active`

func (s *sqliteStore) CreateBot(ctx context.Context, b *ads.Bot) error {
	if b.Status == "" {
		b.Status = ads.BotStopped
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bots(user_id, token, name, status, created_at, last_active) VALUES(?,?,?,?,?,?)`,
		b.UserID, b.Token, b.Name, string(b.Status), timeStr(b.CreatedAt), nullTime(b.LastActive))
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) GetBot(ctx context.Context, id int64) (*ads.Bot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bot %d: %w", id, ads.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *sqliteStore) ListBots(ctx context.Context, userID int64) ([]ads.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+botColumns+` FROM bots WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func (s *sqliteStore) RunningBots(ctx context.Context, ids []int64) ([]ads.Bot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(ads.BotRunning))
	for _, id := range ids {
		ph = append(ph, "?")
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE status = ? AND id IN (`+strings.Join(ph, ",")+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func (s *sqliteStore) SetBotStatus(ctx context.Context, id int64, st ads.BotStatus, lastActive *time.Time) error {
	var res sql.Result
	var err error
	if lastActive != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE bots SET status = ?, last_active = ? WHERE id = ?`, string(st), timeStr(*lastActive), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE bots SET status = ? WHERE id = ?`, string(st), id)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("bot %d: %w", id, ads.ErrNotFound)
	}
	return nil
}

func scanBot(r rowScanner) (*ads.Bot, error) {
	var (
		b      ads.Bot
		status string
		ct     string
		la     sql.NullString
	)
	if err := r.Scan(&b.ID, &b.UserID, &b.Token, &b.Name, &status, &ct, &la); err != nil {
		return nil, err
	}
	b.Status = ads.BotStatus(status)
	b.CreatedAt = parseTime(ct)
	b.LastActive = parseNullTime(la)
	return &b, nil
}

func collectBots(rows *sql.Rows) ([]ads.Bot, error) {
	var out []ads.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ---- broadcast outcomes ----

func (s *sqliteStore) AppendOutcome(ctx context.Context, o ads.BroadcastOutcome) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_outcomes(ad_id, bot_id, total_recipients, successful, failed, at) VALUES(?,?,?,?,?,?)`,
		o.AdID, o.BotID, o.TotalRecipients, o.Successful, o.Failed, timeStr(o.At))
	return err
}

func (s *sqliteStore) OutcomesByAd(ctx context.Context, adID int64) ([]ads.BroadcastOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ad_id, bot_id, total_recipients, successful, failed, at
		 FROM broadcast_outcomes WHERE ad_id = ? ORDER BY id`, adID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ads.BroadcastOutcome
	for rows.Next() {
		var o ads.BroadcastOutcome
		var at string
		if err := rows.Scan(&o.AdID, &o.BotID, &o.TotalRecipients, &o.Successful, &o.Failed, &at); err != nil {
			return nil, err
		}
		o.At = parseTime(at)
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- recipient ledger ----

func (s *sqliteStore) AddChat(ctx context.Context, botID, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_chats(bot_id, chat_id, added_at) VALUES(?,?,?)
		 ON CONFLICT(bot_id, chat_id) DO NOTHING`,
		botID, chatID, timeStr(time.Now()))
	return err
}

func (s *sqliteStore) ChatIDs(ctx context.Context, botID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM bot_chats WHERE bot_id = ? ORDER BY added_at, chat_id`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- time helpers ----

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
