package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/models"
	"github.com/pawtrail/tracker/internal/utils"
	"github.com/pawtrail/tracker/pkg/geo"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping reports store reachability, used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// wrapErr marks connection-class failures as transient so per-operation
// retries kick in.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if pgconn.SafeToRetry(err) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return utils.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) GeofencesForDevice(ctx context.Context, deviceID string) ([]models.Geofence, error) {
	query := `
		SELECT g.id, g.name, g.kind, g.center_lat, g.center_lng, g.radius_meters, g.vertices
		FROM geofences g
		JOIN geofence_devices gd ON gd.geofence_id = g.id
		WHERE gd.device_id = $1
	`
	rows, err := s.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, wrapErr("query geofences", err)
	}
	defer rows.Close()

	var fences []models.Geofence
	for rows.Next() {
		var (
			f        models.Geofence
			kind     string
			lat, lng *float64
			radius   *float64
			vertices []byte
		)
		if err := rows.Scan(&f.ID, &f.Name, &kind, &lat, &lng, &radius, &vertices); err != nil {
			return nil, wrapErr("scan geofence", err)
		}

		f.Region = s.buildRegion(f.ID, kind, lat, lng, radius, vertices)
		fences = append(fences, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate geofences", err)
	}
	return fences, nil
}

// buildRegion assembles the geometry from loosely-typed columns. Rows with
// unparsable vertex data still produce a region; the evaluator recognizes
// it as malformed and skips it, so one bad fence never hides the others.
func (s *PostgresStore) buildRegion(id, kind string, lat, lng, radius *float64, vertices []byte) geo.Region {
	region := geo.Region{Kind: geo.RegionKind(kind)}

	switch region.Kind {
	case geo.RegionCircle:
		if lat != nil && lng != nil {
			region.Center = geo.Point{Lat: *lat, Lng: *lng}
		}
		if radius != nil {
			region.RadiusMeters = *radius
		}
	case geo.RegionPolygon:
		var pairs [][]float64
		if err := json.Unmarshal(vertices, &pairs); err != nil {
			s.logger.Warn().Err(err).Str("geofence_id", id).Msg("Unparsable geofence vertex data")
			return region
		}
		for _, p := range pairs {
			if len(p) != 2 {
				continue
			}
			region.Vertices = append(region.Vertices, geo.Point{Lat: p[0], Lng: p[1]})
		}
	}
	return region
}

func (s *PostgresStore) OwnerForDevice(ctx context.Context, deviceID string) (string, error) {
	var ownerID string
	query := `
		SELECT owner_id FROM device_owners
		WHERE device_id = $1
		ORDER BY assigned_at
		LIMIT 1
	`
	err := s.pool.QueryRow(ctx, query, deviceID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("query device owner", err)
	}
	return ownerID, nil
}

func (s *PostgresStore) OwnersForDevice(ctx context.Context, deviceID string) ([]OwnerPet, error) {
	query := `
		SELECT do2.owner_id, d.pet_name
		FROM device_owners do2
		JOIN devices d ON d.id = do2.device_id
		WHERE do2.device_id = $1
	`
	rows, err := s.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, wrapErr("query device owners", err)
	}
	defer rows.Close()

	var owners []OwnerPet
	for rows.Next() {
		var op OwnerPet
		if err := rows.Scan(&op.OwnerID, &op.PetName); err != nil {
			return nil, wrapErr("scan device owner", err)
		}
		owners = append(owners, op)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate device owners", err)
	}
	return owners, nil
}

func (s *PostgresStore) NotificationPrefs(ctx context.Context, ownerID string) (models.NotificationPrefs, error) {
	var (
		prefs    models.NotificationPrefs
		settings []byte
		radius   *float64
	)
	query := `SELECT settings, radius_meters FROM owner_settings WHERE owner_id = $1`
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(&settings, &radius)
	if errors.Is(err, pgx.ErrNoRows) {
		// No row means notifications are disabled, not an error.
		return prefs, nil
	}
	if err != nil {
		return prefs, wrapErr("query notification prefs", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(settings, &raw); err != nil {
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("Unparsable notification settings")
		return prefs, nil
	}

	prefs.Enabled = raw["enabled"]
	prefs.PerEvent = make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "enabled" {
			continue
		}
		prefs.PerEvent[k] = v
	}
	if radius != nil {
		prefs.RadiusMeters = *radius
	}
	return prefs, nil
}

func (s *PostgresStore) OwnerPhone(ctx context.Context, ownerID string) (string, error) {
	var phone *string
	err := s.pool.QueryRow(ctx, `SELECT phone FROM users WHERE id = $1`, ownerID).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("query owner phone", err)
	}
	if phone == nil {
		return "", nil
	}
	return *phone, nil
}

func (s *PostgresStore) SaveNotification(ctx context.Context, n models.Notification) error {
	query := `
		INSERT INTO notifications (id, owner_id, device_id, message, severity, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		n.ID, n.OwnerID, n.DeviceID, n.Message, string(n.Severity), n.Read, n.CreatedAt)
	return wrapErr("insert notification", err)
}

func (s *PostgresStore) SaveDeviceLastKnown(ctx context.Context, deviceID string, battery *int, lat, lng float64) error {
	query := `
		UPDATE devices
		SET last_lat = $2, last_lng = $3, last_battery = COALESCE($4, last_battery), updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, deviceID, lat, lng, battery)
	return wrapErr("update device last known", err)
}
