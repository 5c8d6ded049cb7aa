package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/nakagami/firebirdsql"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-channel-sync/internal/models"
	"github.com/Guizzs26/go-channel-sync/pkg/encoding"
)

// FirebirdRepository reads the rate and availability calendar from the legacy front-desk database.
// It is read-only; reservations never flow back into it.
type FirebirdRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFirebirdRepository initializes a connection pool for Firebird 2.5
func NewFirebirdRepository(connString string, logger *slog.Logger) (*FirebirdRepository, error) {
	db, err := sql.Open("firebirdsql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open firebird connection: %w", err)
	}

	// Connection pool settings optimized for legacy systems
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("firebird ping failed: %w", err)
	}

	logger.Info("Connected to Firebird successfully", "dialect", 3)

	return &FirebirdRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Rates reads TARIFA_DIARIA. Room codes are CHAR columns in WIN1252, hence the byte scan.
func (r *FirebirdRepository) Rates(ctx context.Context, propertyIDs []string, window DateRange) ([]models.RoomRate, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT COD_QUARTO, DATA, VALOR, MOEDA, MIN_NOITES, MAX_NOITES
		FROM TARIFA_DIARIA
		WHERE COD_QUARTO IN (%s) AND DATA >= ? AND DATA < ?
		ORDER BY COD_QUARTO, DATA`, placeholders(len(propertyIDs)))

	rows, err := r.db.QueryContext(opCtx, query, inArgs(propertyIDs, window)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy rates: %w", err)
	}
	defer rows.Close()

	var out []models.RoomRate
	for rows.Next() {
		var (
			room, currency   []byte
			day              time.Time
			price            decimal.Decimal
			minStay, maxStay sql.NullInt32
		)
		if err := rows.Scan(&room, &day, &price, &currency, &minStay, &maxStay); err != nil {
			return nil, fmt.Errorf("failed to scan legacy rate: %w", err)
		}
		rate := models.RoomRate{
			RoomID:   encoding.ToUTF8(room),
			Date:     models.TruncateDate(day),
			Price:    price,
			Currency: encoding.ToUTF8(currency),
			MinStay:  nullableInt(minStay),
			MaxStay:  nullableInt(maxStay),
		}
		out = append(out, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug("Loaded legacy rates", "rows", len(out))
	return out, nil
}

// Availability reads DISPONIBILIDADE; BLOQUEADO = 'S' closes the day regardless of free units
func (r *FirebirdRepository) Availability(ctx context.Context, propertyIDs []string, window DateRange) ([]models.RoomAvailability, error) {
	if len(propertyIDs) == 0 {
		return nil, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT COD_QUARTO, DATA, QTD_LIVRE, BLOQUEADO
		FROM DISPONIBILIDADE
		WHERE COD_QUARTO IN (%s) AND DATA >= ? AND DATA < ?
		ORDER BY COD_QUARTO, DATA`, placeholders(len(propertyIDs)))

	rows, err := r.db.QueryContext(opCtx, query, inArgs(propertyIDs, window)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy availability: %w", err)
	}
	defer rows.Close()

	var out []models.RoomAvailability
	for rows.Next() {
		var (
			room, blocked []byte
			day           time.Time
			free          int
		)
		if err := rows.Scan(&room, &day, &free, &blocked); err != nil {
			return nil, fmt.Errorf("failed to scan legacy availability: %w", err)
		}
		out = append(out, models.RoomAvailability{
			RoomID:    encoding.ToUTF8(room),
			Date:      models.TruncateDate(day),
			Available: free,
			Status:    legacyStatus(encoding.ToUTF8(blocked)),
		})
	}
	return out, rows.Err()
}

// Close gracefully shuts down the database connection pool
func (r *FirebirdRepository) Close() error {
	r.logger.Info("Closing Firebird connection pool")
	return r.db.Close()
}

func legacyStatus(blocked string) string {
	if strings.EqualFold(blocked, "S") {
		return "closed"
	}
	return "open"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func inArgs(ids []string, window DateRange) []any {
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	return append(args, window.From, window.To)
}

func nullableInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
