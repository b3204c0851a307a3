package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/request-marketplace/internal/models"
)

// PostgresStore implements Store on two tables: requests and
// service_providers. The invariant-guarding operations are single
// conditional statements, so the database serializes racing writers without
// any application-level locks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.ClientRequest) error {
	var pickupLat, pickupLon, destLat, destLon sql.NullFloat64
	if r.Pickup != nil {
		pickupLat = sql.NullFloat64{Float64: r.Pickup.Lat, Valid: true}
		pickupLon = sql.NullFloat64{Float64: r.Pickup.Lon, Valid: true}
	}
	if r.Destination != nil {
		destLat = sql.NullFloat64{Float64: r.Destination.Lat, Valid: true}
		destLon = sql.NullFloat64{Float64: r.Destination.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO requests(id, client_name, client_phone, service_type, pickup_address, destination_address,
			pickup_lat, pickup_lon, dest_lat, dest_lon, suburb, city, status, response_count, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.ClientName, r.ClientPhone, r.ServiceType, r.PickupAddress, r.DestAddress,
		pickupLat, pickupLon, destLat, destLon, r.Suburb, r.City, r.Status, r.ResponseCount, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.ClientRequest, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, client_name, client_phone, service_type, pickup_address, destination_address,
			pickup_lat, pickup_lon, dest_lat, dest_lon, suburb, city, status, response_count, created_at, updated_at
		FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) ListActiveRequests(ctx context.Context) ([]models.ClientRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, client_name, client_phone, service_type, pickup_address, destination_address,
			pickup_lat, pickup_lon, dest_lat, dest_lon, suburb, city, status, response_count, created_at, updated_at
		FROM requests WHERE status = $1 ORDER BY created_at DESC`, models.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ClientRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ClientRequest, error) {
	var r models.ClientRequest
	var pickupLat, pickupLon, destLat, destLon sql.NullFloat64
	var destAddr sql.NullString
	err := row.Scan(&r.ID, &r.ClientName, &r.ClientPhone, &r.ServiceType, &r.PickupAddress, &destAddr,
		&pickupLat, &pickupLon, &destLat, &destLon, &r.Suburb, &r.City, &r.Status, &r.ResponseCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.DestAddress = destAddr.String
	if pickupLat.Valid && pickupLon.Valid {
		r.Pickup = &models.Coord{Lat: pickupLat.Float64, Lon: pickupLon.Float64}
	}
	if destLat.Valid && destLon.Valid {
		r.Destination = &models.Coord{Lat: destLat.Float64, Lon: destLon.Float64}
	}
	return &r, nil
}

func (p *PostgresStore) MarkExpired(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE requests SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		models.StatusExpired, id, models.StatusActive)
	if err != nil {
		return err
	}
	return conditionOutcome(ctx, p.db, res, id)
}

func (p *PostgresStore) Reactivate(ctx context.Context, id string, now time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE requests SET status = $1, created_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.StatusActive, now, id, models.StatusExpired)
	if err != nil {
		return err
	}
	return conditionOutcome(ctx, p.db, res, id)
}

func (p *PostgresStore) IncrementResponses(ctx context.Context, id string, max int) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		UPDATE requests SET response_count = response_count + 1, updated_at = now()
		WHERE id = $1 AND status = $2 AND response_count < $3
		RETURNING response_count`, id, models.StatusActive, max).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing row from a failed precondition.
		var exists bool
		if qerr := p.db.QueryRowContext(ctx, `SELECT true FROM requests WHERE id = $1`, id).Scan(&exists); qerr != nil {
			return 0, ErrNotFound
		}
		return 0, ErrConditionFailed
	}
	return count, err
}

func (p *PostgresStore) DecrementResponses(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE requests SET response_count = response_count - 1, updated_at = now() WHERE id = $1 AND response_count > 0`, id)
	return err
}

func (p *PostgresStore) SaveProvider(ctx context.Context, sp *models.ServiceProvider) error {
	var lat, lon sql.NullFloat64
	if sp.Loc != nil {
		lat = sql.NullFloat64{Float64: sp.Loc.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: sp.Loc.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_providers(code, name, phone, email, service_types, lat, lon, balance, push_token, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email,
			service_types = EXCLUDED.service_types, updated_at = EXCLUDED.updated_at`,
		sp.Code, sp.Name, sp.Phone, sp.Email, pq.Array(sp.ServiceTypes), lat, lon, sp.Balance, sp.PushToken, sp.Updated)
	return err
}

func (p *PostgresStore) GetProvider(ctx context.Context, code string) (*models.ServiceProvider, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT code, name, phone, email, service_types, lat, lon, balance, push_token, updated_at
		FROM service_providers WHERE code = $1`, code)
	return scanProvider(row)
}

func (p *PostgresStore) ListProviders(ctx context.Context) ([]models.ServiceProvider, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT code, name, phone, email, service_types, lat, lon, balance, push_token, updated_at
		FROM service_providers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ServiceProvider
	for rows.Next() {
		sp, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

func scanProvider(row rowScanner) (*models.ServiceProvider, error) {
	var sp models.ServiceProvider
	var lat, lon sql.NullFloat64
	var token sql.NullString
	err := row.Scan(&sp.Code, &sp.Name, &sp.Phone, &sp.Email, pq.Array(&sp.ServiceTypes), &lat, &lon, &sp.Balance, &token, &sp.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sp.PushToken = token.String
	if lat.Valid && lon.Valid {
		sp.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &sp, nil
}

func (p *PostgresStore) UpdateProviderLocation(ctx context.Context, code string, loc models.Coord, now time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE service_providers SET lat = $1, lon = $2, updated_at = $3 WHERE code = $4`,
		loc.Lat, loc.Lon, now, code)
	if err != nil {
		return err
	}
	return notFoundOnZeroRows(res)
}

func (p *PostgresStore) UpdateProviderToken(ctx context.Context, code, token string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE service_providers SET push_token = $1 WHERE code = $2`, token, code)
	if err != nil {
		return err
	}
	return notFoundOnZeroRows(res)
}

func (p *PostgresStore) CreditBalance(ctx context.Context, code string) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM service_providers WHERE code = $1`, code).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

func (p *PostgresStore) DebitCredits(ctx context.Context, code string, amount int) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx, `
		UPDATE service_providers SET balance = balance - $1
		WHERE code = $2 AND balance >= $1
		RETURNING balance`, amount, code).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if berr := p.db.QueryRowContext(ctx, `SELECT balance FROM service_providers WHERE code = $1`, code).Scan(&balance); berr != nil {
			return 0, ErrNotFound
		}
		return balance, ErrConditionFailed
	}
	return balance, err
}

func (p *PostgresStore) AddCredits(ctx context.Context, code string, amount int) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx, `
		UPDATE service_providers SET balance = balance + $1 WHERE code = $2
		RETURNING balance`, amount, code).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

func conditionOutcome(ctx context.Context, db *sql.DB, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	var exists bool
	if qerr := db.QueryRowContext(ctx, `SELECT true FROM requests WHERE id = $1`, id).Scan(&exists); qerr != nil {
		return ErrNotFound
	}
	return ErrConditionFailed
}

func notFoundOnZeroRows(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
