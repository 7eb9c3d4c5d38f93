package sql

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/authapp/iamcore/eventstore"
)

// NetworkDB holds the connection parameters common to a network-accessed
// SQL database.
type NetworkDB struct {
	Database string
	User     string
	Password string
	Host     string
	Port     uint16

	ConnectionTimeout int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
}

// SSL configures transport security for a network database connection.
type SSL struct {
	Mode     string
	CAFile   string
	KeyFile  string
	CertFile string
}

// Postgres opens the event store's Postgres backend.
type Postgres struct {
	NetworkDB
	SSL SSL
}

const pgErrUniqueViolation = "23505"

// Open connects, runs migrations, and returns a ready eventstore.Store.
func (p *Postgres) Open(logger *slog.Logger) (eventstore.Store, error) {
	host, port := p.Host, p.Port
	if h, prt, err := net.SplitHostPort(p.Host); err == nil {
		host = h
		if n, err := strconv.Atoi(prt); err == nil {
			port = uint16(n)
		}
	}

	params := []string{
		"connect_timeout=" + strconv.Itoa(p.ConnectionTimeout),
		"dbname=" + dataSourceStr(p.Database),
		"user=" + dataSourceStr(p.User),
		"host=" + dataSourceStr(host),
		"port=" + strconv.Itoa(int(port)),
	}
	if p.Password != "" {
		params = append(params, "password="+dataSourceStr(p.Password))
	}
	if p.SSL.Mode != "" {
		params = append(params, "sslmode="+p.SSL.Mode)
	}
	if p.SSL.CAFile != "" {
		params = append(params, "sslrootcert="+dataSourceStr(p.SSL.CAFile))
	}
	if p.SSL.CertFile != "" {
		params = append(params, "sslcert="+dataSourceStr(p.SSL.CertFile))
	}
	if p.SSL.KeyFile != "" {
		params = append(params, "sslkey="+dataSourceStr(p.SSL.KeyFile))
	}

	db, err := sql.Open("postgres", strings.Join(params, " "))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}

	uniqueViolation := func(err error) bool {
		pqErr, ok := err.(*pq.Error)
		return ok && string(pqErr.Code) == pgErrUniqueViolation
	}

	c := &conn{db: db, flavor: flavorPostgres, logger: logger, uniqueViolation: uniqueViolation}
	if _, err := c.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

var strEsc = regexp.MustCompile(`([\\'])`)

func dataSourceStr(s string) string {
	return "'" + strEsc.ReplaceAllString(s, `\$1`) + "'"
}
