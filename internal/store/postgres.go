package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"smmpanel/internal/apperr"
	"smmpanel/internal/models"
)

// Postgres implements Store on top of database/sql and lib/pq.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Store using the provided database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `user_id, username, first_name, last_name, balance, total_orders,
	total_deposits, referrals, referral_earnings, referral_by, banned, joined_date`

const serviceColumns = `id, category, name, description, price, min_quantity, max_quantity, status`

const orderColumns = `id, user_id, service_id, link, quantity, total_price, status, order_date`

const depositColumns = `id, user_id, amount, method, transaction_id, status, deposit_date, approved_by, approved_date`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var (
		u          models.User
		referredBy sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Balance, &u.TotalOrders,
		&u.TotalDeposits, &u.Referrals, &u.ReferralEarnings, &referredBy, &u.Banned, &u.JoinedAt)
	if err != nil {
		return models.User{}, err
	}
	if referredBy.Valid {
		u.ReferredBy = &referredBy.Int64
	}
	return u, nil
}

func scanService(row scanner) (models.Service, error) {
	var s models.Service
	err := row.Scan(&s.ID, &s.Category, &s.Name, &s.Description, &s.Price, &s.MinQuantity, &s.MaxQuantity, &s.Active)
	return s, err
}

func scanOrder(row scanner) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.Link, &o.Quantity, &o.TotalPrice, &o.Status, &o.CreatedAt)
	return o, err
}

func scanDeposit(row scanner) (models.Deposit, error) {
	var (
		d         models.Deposit
		status    string
		decidedBy sql.NullInt64
		decidedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Amount, &d.Method, &d.TransactionID, &status, &d.CreatedAt, &decidedBy, &decidedAt)
	if err != nil {
		return models.Deposit{}, err
	}
	d.Status = models.DepositStatus(status)
	if decidedBy.Valid {
		d.DecidedBy = &decidedBy.Int64
	}
	if decidedAt.Valid {
		d.DecidedAt = &decidedAt.Time
	}
	return d, nil
}

// notFound maps sql.ErrNoRows onto apperr.ErrNotFound.
func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
	}
	return err
}

// --- SettingsStore ----------------------------------------------------------

func (s *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", notFound(err, "setting", key)
	}
	return value, nil
}

func (s *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *Postgres) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Postgres) SeedSettings(ctx context.Context, defaults map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range defaults {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- UserStore --------------------------------------------------------------

func (s *Postgres) CreateUser(ctx context.Context, u models.User) (models.User, bool, error) {
	var referredBy sql.NullInt64
	if u.ReferredBy != nil && *u.ReferredBy != u.ID {
		referredBy = sql.NullInt64{Int64: *u.ReferredBy, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (user_id, username, first_name, last_name, referral_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+userColumns,
		u.ID, u.Username, u.FirstName, u.LastName, referredBy)

	created, err := scanUser(row)
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, err := s.GetUser(ctx, u.ID)
		return existing, false, err
	default:
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			// referrer vanished between validation and insert
			u.ReferredBy = nil
			return s.CreateUser(ctx, u)
		}
		return models.User{}, false, err
	}
}

func (s *Postgres) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id))
	if err != nil {
		return models.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (s *Postgres) ListUserIDs(ctx context.Context, includeBanned bool) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM users
		WHERE $1 OR NOT banned
		ORDER BY user_id`, includeBanned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) SetBanned(ctx context.Context, id int64, banned bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET banned = $1 WHERE user_id = $2`, banned, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *Postgres) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET balance = balance + $1
		WHERE user_id = $2 AND balance + $1 >= 0
		RETURNING `+userColumns, delta, id))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.User{}, err
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return models.User{}, err
	}
	return models.User{}, apperr.ErrInsufficientFunds
}

func (s *Postgres) GrantReferralBonus(ctx context.Context, referrerID, referredID int64, amount decimal.Decimal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO referral_rewards (referred_user_id, referrer_id, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (referred_user_id) DO NOTHING`, referredID, referrerID, amount)
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + $1,
			referrals = referrals + 1,
			referral_earnings = referral_earnings + $1
		WHERE user_id = $2`, amount, referrerID)
	if err != nil {
		return false, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, fmt.Errorf("user %d: %w", referrerID, apperr.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// --- CatalogStore -----------------------------------------------------------

func (s *Postgres) CreateService(ctx context.Context, svc models.Service) (models.Service, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO services (category, name, description, price, min_quantity, max_quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		svc.Category, svc.Name, svc.Description, svc.Price, svc.MinQuantity, svc.MaxQuantity, svc.Active,
	).Scan(&svc.ID)
	if err != nil {
		return models.Service{}, err
	}
	return svc, nil
}

func (s *Postgres) UpdateService(ctx context.Context, svc models.Service) (models.Service, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE services
		SET category = $2, name = $3, description = $4, price = $5,
			min_quantity = $6, max_quantity = $7, status = $8
		WHERE id = $1`,
		svc.ID, svc.Category, svc.Name, svc.Description, svc.Price, svc.MinQuantity, svc.MaxQuantity, svc.Active)
	if err != nil {
		return models.Service{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.Service{}, fmt.Errorf("service %d: %w", svc.ID, apperr.ErrNotFound)
	}
	return svc, nil
}

func (s *Postgres) GetService(ctx context.Context, id int64) (models.Service, error) {
	svc, err := scanService(s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
	if err != nil {
		return models.Service{}, notFound(err, "service", id)
	}
	return svc, nil
}

func (s *Postgres) ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error) {
	return s.queryServices(ctx, `SELECT `+serviceColumns+` FROM services WHERE status OR NOT $1 ORDER BY id`, activeOnly)
}

func (s *Postgres) ListServicesByCategory(ctx context.Context, category string) ([]models.Service, error) {
	return s.queryServices(ctx, `SELECT `+serviceColumns+` FROM services WHERE status AND category = $1 ORDER BY id`, category)
}

func (s *Postgres) queryServices(ctx context.Context, query string, args ...any) ([]models.Service, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Postgres) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM services WHERE status ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- OrderStore -------------------------------------------------------------

func (s *Postgres) PlaceOrder(ctx context.Context, o models.Order) (models.Order, error) {
	if err := checkTotal(o.TotalPrice); err != nil {
		return models.Order{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, err
	}
	defer tx.Rollback()

	// Check balance under a row lock
	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE user_id = $1 FOR UPDATE`, o.UserID).Scan(&balance)
	if err != nil {
		return models.Order{}, notFound(err, "user", o.UserID)
	}
	if balance.LessThan(o.TotalPrice) {
		return models.Order{}, apperr.ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance - $1, total_orders = total_orders + 1
		WHERE user_id = $2`, o.TotalPrice, o.UserID)
	if err != nil {
		return models.Order{}, err
	}

	if o.Status == "" {
		o.Status = models.OrderPending
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, service_id, link, quantity, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, order_date`,
		o.UserID, o.ServiceID, o.Link, o.Quantity, o.TotalPrice, o.Status,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return models.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

func (s *Postgres) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return models.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (s *Postgres) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE $1 = 0 OR user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateOrderStatus(ctx context.Context, id int64, status string) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders SET status = $2 WHERE id = $1
		RETURNING `+orderColumns, id, status))
	if err != nil {
		return models.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

// --- DepositStore -----------------------------------------------------------

func (s *Postgres) CreateDeposit(ctx context.Context, d models.Deposit) (models.Deposit, error) {
	d, err := scanDeposit(s.db.QueryRowContext(ctx, `
		INSERT INTO deposits (user_id, amount, method, transaction_id, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING `+depositColumns, d.UserID, d.Amount, d.Method, d.TransactionID))
	if err != nil {
		return models.Deposit{}, err
	}
	return d, nil
}

func (s *Postgres) GetDeposit(ctx context.Context, id int64) (models.Deposit, error) {
	d, err := scanDeposit(s.db.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		return models.Deposit{}, notFound(err, "deposit", id)
	}
	return d, nil
}

func (s *Postgres) ListDeposits(ctx context.Context, status models.DepositStatus) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE $1 = '' OR status = $1
		ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) SettleDeposit(ctx context.Context, id, operatorID int64, at time.Time) (models.Deposit, models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Deposit{}, models.User{}, err
	}
	defer tx.Rollback()

	d, err := decideTx(ctx, tx, id, models.DepositApproved, operatorID, at)
	if err != nil {
		return d, models.User{}, err
	}

	u, err := scanUser(tx.QueryRowContext(ctx, `
		UPDATE users
		SET balance = balance + $1, total_deposits = total_deposits + $1
		WHERE user_id = $2
		RETURNING `+userColumns, d.Amount, d.UserID))
	if err != nil {
		return models.Deposit{}, models.User{}, notFound(err, "user", d.UserID)
	}

	if err = tx.Commit(); err != nil {
		return models.Deposit{}, models.User{}, err
	}
	return d, u, nil
}

func (s *Postgres) RejectDeposit(ctx context.Context, id, operatorID int64, at time.Time) (models.Deposit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Deposit{}, err
	}
	defer tx.Rollback()

	d, err := decideTx(ctx, tx, id, models.DepositRejected, operatorID, at)
	if err != nil {
		return d, err
	}
	if err = tx.Commit(); err != nil {
		return models.Deposit{}, err
	}
	return d, nil
}

// decideTx flips a pending deposit to status. The conditional UPDATE is the
// compare-and-set; a miss is resolved into not-found or already-decided.
func decideTx(ctx context.Context, tx *sql.Tx, id int64, status models.DepositStatus, operatorID int64, at time.Time) (models.Deposit, error) {
	d, err := scanDeposit(tx.QueryRowContext(ctx, `
		UPDATE deposits
		SET status = $2, approved_by = $3, approved_date = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+depositColumns, id, string(status), operatorID, at))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Deposit{}, err
	}

	current, err := scanDeposit(tx.QueryRowContext(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		return models.Deposit{}, notFound(err, "deposit", id)
	}
	return current, fmt.Errorf("deposit %d is %s: %w", id, current.Status, apperr.ErrAlreadyDecided)
}

func (s *Postgres) FirstApprovedDeposit(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM deposits
		WHERE user_id = $1 AND status = 'approved'
		ORDER BY approved_date, id
		LIMIT 1`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// --- StatsStore -------------------------------------------------------------

func (s *Postgres) Statistics(ctx context.Context, since time.Time) (models.Statistics, error) {
	var st models.Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COALESCE(SUM(amount), 0) FROM deposits WHERE status = 'approved'),
			(SELECT COUNT(*) FROM orders),
			(SELECT COUNT(*) FROM users WHERE joined_date >= $1),
			(SELECT COUNT(*) FROM orders WHERE order_date >= $1)`, since,
	).Scan(&st.TotalUsers, &st.TotalDeposits, &st.TotalOrders, &st.TodayUsers, &st.TodayOrders)
	return st, err
}

func (s *Postgres) LogBroadcast(ctx context.Context, entry models.BroadcastLog) (models.BroadcastLog, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO broadcast_logs (admin_id, message_type, users_count)
		VALUES ($1, $2, $3)
		RETURNING id, sent_date`, entry.AdminID, entry.MessageType, entry.UsersCount,
	).Scan(&entry.ID, &entry.SentAt)
	return entry, err
}
