package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/model"
)

const connectTimeout = 5 * time.Second

// ErrSchemaMissing is returned by SchemaCheck when a table has not been migrated.
var ErrSchemaMissing = errors.New("postgres: schema not migrated")

// SchemaTables lists the tables the service cannot run without.
var SchemaTables = []string{model.ShortenedURL{}.TableName(), model.URLClick{}.TableName()}

// NewPool opens the pgx pool used by the readiness probe and pings it once.
// Request traffic goes through GORM.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func poolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	// The probe needs very few connections; cap it below the GORM pool.
	poolCfg.MaxConns = 2
	if cfg.MaxConns > 0 && cfg.MaxConns < poolCfg.MaxConns {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = parseDuration(cfg.MaxConnLifetime, poolCfg.MaxConnLifetime)
	poolCfg.MaxConnIdleTime = parseDuration(cfg.MaxConnIdleTime, poolCfg.MaxConnIdleTime)
	poolCfg.HealthCheckPeriod = parseDuration(cfg.HealthCheckPeriod, poolCfg.HealthCheckPeriod)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "shortlink-readiness"
	return poolCfg, nil
}

// SchemaCheck reports whether every table in SchemaTables exists. A reachable
// database with a missing migration is not ready to serve.
func SchemaCheck(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		rows, err := pool.Query(ctx,
			`SELECT t FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL`, SchemaTables)
		if err != nil {
			return fmt.Errorf("postgres: check schema: %w", err)
		}
		defer rows.Close()

		var missing []string
		for rows.Next() {
			var table string
			if err := rows.Scan(&table); err != nil {
				return fmt.Errorf("postgres: scan schema check: %w", err)
			}
			missing = append(missing, table)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres: check schema: %w", err)
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrSchemaMissing, strings.Join(missing, ", "))
		}
		return nil
	}
}

// ConnString renders cfg as a postgres:// URL shared by GORM and pgx.
func ConnString(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + cfg.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	return u.String()
}
