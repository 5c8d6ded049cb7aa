package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-channel-sync/internal/models"
)

// PostgresRepository is the central reservation store
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("erro ao configurar pool do postgres: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar pool do postgres: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("sem resposta do postgres: %w", err)
	}

	return &PostgresRepository{pool: p}, nil
}

// Upsert is a single statement so concurrent imports of the same key never duplicate rows.
// xmax is zero only on the freshly inserted tuple.
func (r *PostgresRepository) Upsert(ctx context.Context, res *models.Reservation) (bool, error) {
	query := `
		INSERT INTO reservations (
			external_id, channel, channel_id, property_id,
			guest_id, guest_name, guest_email, guest_phone, adults, children,
			check_in, check_out, status, total_price, currency, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::numeric, $15,
		        COALESCE($16, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
		ON CONFLICT (channel, external_id) DO UPDATE SET
			channel_id  = EXCLUDED.channel_id,
			property_id = EXCLUDED.property_id,
			guest_id    = EXCLUDED.guest_id,
			guest_name  = EXCLUDED.guest_name,
			guest_email = EXCLUDED.guest_email,
			guest_phone = EXCLUDED.guest_phone,
			adults      = EXCLUDED.adults,
			children    = EXCLUDED.children,
			check_in    = EXCLUDED.check_in,
			check_out   = EXCLUDED.check_out,
			status      = CASE
			                WHEN reservations.status = 'confirmed' AND EXCLUDED.status = 'new' THEN reservations.status
			                ELSE EXCLUDED.status
			              END,
			total_price = EXCLUDED.total_price,
			currency    = EXCLUDED.currency,
			updated_at  = CURRENT_TIMESTAMP
		RETURNING id::text, status, created_at, updated_at, (xmax = 0) AS inserted
	`

	var createdAt *time.Time
	if !res.CreatedAt.IsZero() {
		createdAt = &res.CreatedAt
	}

	var (
		status   string
		inserted bool
	)
	err := r.pool.QueryRow(ctx, query,
		res.ExternalID, string(res.Channel), res.ChannelID, res.PropertyID,
		res.GuestID, res.GuestName, res.GuestEmail, res.GuestPhone, res.Adults, res.Children,
		res.CheckIn, res.CheckOut, string(res.Status), res.TotalPrice.String(), res.Currency, createdAt,
	).Scan(&res.ID, &status, &res.CreatedAt, &res.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert reservation %s/%s: %w", res.Channel, res.ExternalID, err)
	}
	res.Status = models.ReservationStatus(status)
	return inserted, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, channel models.Channel, externalID string, status models.ReservationStatus) error {
	query := `
		UPDATE reservations
		SET status = $3, updated_at = CURRENT_TIMESTAMP
		WHERE channel = $1 AND external_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, string(channel), externalID, string(status))
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s/%s: %w", channel, externalID, ErrNotFound)
	}
	return nil
}

const reservationColumns = `
	id::text, external_id, channel, COALESCE(channel_id, ''), property_id,
	COALESCE(guest_id, ''), COALESCE(guest_name, ''), COALESCE(guest_email, ''), COALESCE(guest_phone, ''),
	adults, children, check_in, check_out, status, total_price::text, COALESCE(currency, ''),
	created_at, updated_at
`

func scanReservation(row pgx.Row) (models.Reservation, error) {
	var (
		res             models.Reservation
		channel, status string
		price           string
	)
	err := row.Scan(
		&res.ID, &res.ExternalID, &channel, &res.ChannelID, &res.PropertyID,
		&res.GuestID, &res.GuestName, &res.GuestEmail, &res.GuestPhone,
		&res.Adults, &res.Children, &res.CheckIn, &res.CheckOut, &status, &price, &res.Currency,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return models.Reservation{}, err
	}
	res.Channel = models.Channel(channel)
	res.Status = models.ReservationStatus(status)
	if res.TotalPrice, err = decimal.NewFromString(price); err != nil {
		return models.Reservation{}, fmt.Errorf("total_price %q: %w", price, err)
	}
	return res, nil
}

func (r *PostgresRepository) Reservation(ctx context.Context, channel models.Channel, externalID string) (models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE channel = $1 AND external_id = $2`

	res, err := scanReservation(r.pool.QueryRow(ctx, query, string(channel), externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Reservation{}, fmt.Errorf("reservation %s/%s: %w", channel, externalID, ErrNotFound)
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("load reservation: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) ReservationsByProperty(ctx context.Context, propertyIDs []string) ([]models.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE property_id = ANY($1) AND status <> 'cancelled'
		ORDER BY check_in, id
	`
	rows, err := r.pool.Query(ctx, query, propertyIDs)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) PropertyIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT property_id FROM reservations ORDER BY property_id`)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const channelColumns = `
	channel_id, type, base_url, hotel_id, credentials, currency, properties, sync_interval_minutes,
	auto_accept_reservations, push_prices, push_availability, pull_reservations, enabled
`

func scanChannelConfig(row pgx.Row) (models.ChannelConfig, error) {
	var (
		cfg models.ChannelConfig
		typ string
	)
	err := row.Scan(
		&cfg.ChannelID, &typ, &cfg.BaseURL, &cfg.HotelID, &cfg.Credentials, &cfg.Currency,
		&cfg.Properties, &cfg.SyncIntervalMinutes, &cfg.AutoAcceptReservations, &cfg.PushPrices,
		&cfg.PushAvailability, &cfg.PullReservations, &cfg.Enabled,
	)
	cfg.Type = models.Channel(typ)
	return cfg, err
}

func (r *PostgresRepository) ChannelConfig(ctx context.Context, channelID string) (models.ChannelConfig, error) {
	query := `SELECT ` + channelColumns + ` FROM channel_configs WHERE channel_id = $1`

	cfg, err := scanChannelConfig(r.pool.QueryRow(ctx, query, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ChannelConfig{}, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	if err != nil {
		return models.ChannelConfig{}, fmt.Errorf("load channel config: %w", err)
	}
	return cfg, nil
}

func (r *PostgresRepository) ChannelConfigs(ctx context.Context) ([]models.ChannelConfig, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+channelColumns+` FROM channel_configs ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("query channel configs: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelConfig
	for rows.Next() {
		cfg, err := scanChannelConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, channel_id, started_at, counts, errors)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, run.ID, run.ChannelID, run.StartedAt, runCounts(run.Counts), runErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// FinishRun writes the final state once; a finalized run is never touched again
func (r *PostgresRepository) FinishRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		UPDATE sync_runs
		SET finished_at = $2, status = $3, counts = $4, errors = $5
		WHERE id = $1 AND finished_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, run.ID, run.FinishedAt, string(run.Status), runCounts(run.Counts), runErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("finalize sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunFinalized
	}
	return nil
}

func (r *PostgresRepository) Runs(ctx context.Context, channelID string, limit int) ([]models.SyncRun, error) {
	query := `
		SELECT id::text, channel_id, started_at, finished_at, COALESCE(status, ''), counts, errors
		FROM sync_runs
		WHERE channel_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var (
			run    models.SyncRun
			status string
		)
		if err := rows.Scan(&run.ID, &run.ChannelID, &run.StartedAt, &run.FinishedAt, &status, &run.Counts, &run.Errors); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.Status = models.RunStatus(status)
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Cursor(ctx context.Context, channelID string) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx, `SELECT last_change FROM sync_cursors WHERE channel_id = $1`, channelID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) SetCursor(ctx context.Context, channelID string, t time.Time) error {
	query := `
		INSERT INTO sync_cursors (channel_id, last_change) VALUES ($1, $2)
		ON CONFLICT (channel_id) DO UPDATE SET last_change = EXCLUDED.last_change
	`
	if _, err := r.pool.Exec(ctx, query, channelID, t); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Rates(ctx context.Context, propertyIDs []string, window DateRange) ([]models.RoomRate, error) {
	query := `
		SELECT room_id, day, price::text, COALESCE(currency, ''), min_stay, max_stay
		FROM room_rates
		WHERE room_id = ANY($1) AND day >= $2 AND day < $3
		ORDER BY room_id, day
	`
	rows, err := r.pool.Query(ctx, query, propertyIDs, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("query rates: %w", err)
	}
	defer rows.Close()

	var out []models.RoomRate
	for rows.Next() {
		var (
			rate  models.RoomRate
			price string
		)
		if err := rows.Scan(&rate.RoomID, &rate.Date, &price, &rate.Currency, &rate.MinStay, &rate.MaxStay); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		if rate.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("rate price %q: %w", price, err)
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Availability(ctx context.Context, propertyIDs []string, window DateRange) ([]models.RoomAvailability, error) {
	query := `
		SELECT room_id, day, available, status
		FROM room_availability
		WHERE room_id = ANY($1) AND day >= $2 AND day < $3
		ORDER BY room_id, day
	`
	rows, err := r.pool.Query(ctx, query, propertyIDs, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	var out []models.RoomAvailability
	for rows.Next() {
		var a models.RoomAvailability
		if err := rows.Scan(&a.RoomID, &a.Date, &a.Available, &a.Status); err != nil {
			return nil, fmt.Errorf("scan availability: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func runCounts(c map[string]models.Counts) map[string]models.Counts {
	if c == nil {
		return map[string]models.Counts{}
	}
	return c
}

// runErrors keeps an empty list as [] rather than null in the jsonb column
func runErrors(errs []models.RunError) []models.RunError {
	if errs == nil {
		return []models.RunError{}
	}
	return errs
}
