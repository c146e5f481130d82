package relationaldb

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/graphsmith-backend/internal/platform/envutil"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
)

// NewFromEnv opens the relational database backing the run ledger.
// RELATIONAL_DRIVER selects postgres (default) or sqlite; sqlite keeps
// single-node deployments dependency-free. Returns (nil, nil) when no
// configuration is present, since the ledger is optional.
func NewFromEnv(log *logger.Logger) (*gorm.DB, error) {
	driver := strings.ToLower(envutil.String("RELATIONAL_DRIVER", ""))
	dsn := envutil.String("RELATIONAL_DSN", "")
	if driver == "" && dsn == "" {
		log.Info("no relational database configured, run ledger disabled")
		return nil, nil
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "postgres", "":
		if dsn == "" {
			dsn = postgresDSN()
		}
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	case "sqlite":
		if dsn == "" {
			dsn = "graphsmith.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("relationaldb: unknown driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("relationaldb: connect %s: %w", driver, err)
	}
	log.Info("relational database connected", "driver", driver)
	return db, nil
}

func postgresDSN() string {
	host := envutil.String("POSTGRES_HOST", "localhost")
	port := envutil.String("POSTGRES_PORT", "5432")
	user := envutil.String("POSTGRES_USER", "postgres")
	password := envutil.String("POSTGRES_PASSWORD", "")
	name := envutil.String("POSTGRES_NAME", "graphsmith")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}
