package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Executor runs administrative statements.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Dialer opens an Executor against the engine on port.
type Dialer func(ctx context.Context, port int, user, password string) (Executor, error)

// DialMySQL connects with the MySQL wire protocol. String arguments are
// interpolated client-side so account statements can use placeholders.
func DialMySQL(ctx context.Context, port int, user, password string) (Executor, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = "127.0.0.1:" + strconv.Itoa(port)
	cfg.AllowNativePasswords = true
	cfg.InterpolateParams = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("build connector: %w", err)
	}
	conn := sql.OpenDB(connector)
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect to database on port %d: %w", port, err)
	}
	return conn, nil
}

// Statement is one query with its arguments.
type Statement struct {
	Query string
	Args  []any
}

// quoteIdent 反引号包裹标识符
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// AccountStatements creates or updates a local account. Each statement is
// safe to re-run; the password is applied unconditionally.
func AccountStatements(username, password string) []Statement {
	return []Statement{
		{Query: "CREATE USER IF NOT EXISTS ?@'localhost' IDENTIFIED BY ?", Args: []any{username, password}},
		{Query: "ALTER USER ?@'localhost' IDENTIFIED BY ?", Args: []any{username, password}},
	}
}

// BootstrapStatements returns the full admin and application account setup.
// The application account is granted privileges on schema only.
func BootstrapStatements(adminUser, adminPassword, appUser, appPassword, schema string) []Statement {
	stmts := []Statement{
		{Query: "ALTER USER ?@'localhost' IDENTIFIED BY ?", Args: []any{adminUser, adminPassword}},
		{Query: "GRANT ALL PRIVILEGES ON *.* TO ?@'localhost' WITH GRANT OPTION", Args: []any{adminUser}},
		{Query: "CREATE DATABASE IF NOT EXISTS " + quoteIdent(schema) + " DEFAULT CHARACTER SET utf8"},
	}
	stmts = append(stmts, AccountStatements(appUser, appPassword)...)
	stmts = append(stmts,
		Statement{Query: "GRANT ALL PRIVILEGES ON " + quoteIdent(schema) + ".* TO ?@'localhost'", Args: []any{appUser}},
		Statement{Query: "FLUSH PRIVILEGES"},
	)
	return stmts
}

// Run executes statements in order and stops at the first failure.
func Run(ctx context.Context, ex Executor, stmts []Statement) error {
	for _, s := range stmts {
		if _, err := ex.ExecContext(ctx, s.Query, s.Args...); err != nil {
			return fmt.Errorf("exec %q: %w", s.Query, err)
		}
	}
	return nil
}
