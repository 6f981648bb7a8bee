package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/Linaro/lite-cornea/internal/config"
	"github.com/Linaro/lite-cornea/internal/iris"
)

// session bundles a connection, catalog, and the resolved config for the
// lifetime of one subcommand invocation; every handler defers
// session.Close.
type session struct {
	conn *iris.Connection
	cat  *iris.Catalog
	cfg  *config.Config
}

func (s *session) Close() { _ = s.conn.Close() }

// dial resolves the effective Config (env/file defaults, spec.md §6),
// applies per-invocation --host/--port overrides, and connects.
func dial(c *cli.Context) (*session, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return nil, err
	}
	if h := c.GlobalString("host"); h != "" {
		cfg.Host = h
	}
	if p := c.GlobalInt("port"); p != 0 {
		cfg.Port = p
	}
	if cfg.Port == 0 {
		return nil, cli.NewExitError("no Iris port given and none discovered; set CORNEA_IRIS_PORT or pass --port", 1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := iris.Dial(addr, cfg.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &session{conn: conn, cat: iris.NewCatalog(conn), cfg: cfg}, nil
}

// exitCodeFor maps a top-level error to the process exit code. Only
// gdb-proxy distinguishes I/O vs protocol failure (spec.md §6 "Exit code
// 0 on clean D, 1 on I/O error, 2 on protocol error"); every other
// subcommand exits 1 on any error.
func exitCodeFor(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}
