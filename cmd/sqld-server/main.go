// Command sqld-server runs the embedded SQL server: it opens the
// connection factory, the per-database replication log, and serves the
// Hrana websocket protocol on a TCP listener.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/libsqlgo/sqld/internal/adapter"
	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/config"
	"github.com/libsqlgo/sqld/internal/enginetest"
	"github.com/libsqlgo/sqld/internal/factory"
	"github.com/libsqlgo/sqld/internal/hrana"
	"github.com/libsqlgo/sqld/internal/replication/primary"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
)

// cli is the flag surface a operator passes on the command line, mirroring
// cmd/lint/lint.go's bare kong-parsed struct.
var cli struct {
	DBPath           string        `help:"Path to the database file." default:"sqld.db"`
	ListenAddr       string        `help:"Address to listen on." default:":8080"`
	WalDir           string        `help:"Directory for the replication log." default:"."`
	ExtensionPaths   []string      `help:"Paths to load as engine extensions."`
	MaxResponseSize  uint64        `help:"Maximum bytes a single program's response may occupy (0 = unlimited)."`
	TxnTimeout       time.Duration `help:"Transaction timeout, counted from the statement that opens the transaction." default:"5s"`
	OpenRetryCount   int           `help:"In-worker retries on a transient busy open." default:"10"`
	OpenRetryDelay   time.Duration `help:"Delay between in-worker open retries." default:"10ms"`
	ColdStartRetries int           `help:"Factory-level outer retries on a busy open." default:"100"`
	ColdStartDelay   time.Duration `help:"Delay between cold-start retries." default:"100ms"`
	MaxLogFrameCount uint64        `help:"Compact the replication log past this many frames." default:"1000"`
	MaxLogDuration   time.Duration `help:"Compact the replication log past this age (0 = no age-based compaction)."`
}

// noopAuthenticator grants full access unconditionally. A real deployment
// wires JWT verification here; that scheme is left to the operator per
// spec.md's scope (the core names the hook, not a specific auth provider).
type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(jwt *string) (auth.Identity, error) {
	return auth.Authorized(auth.FullAccess), nil
}

func main() {
	kong.Parse(&cli)

	logger := logrus.New()
	cfg := &config.Server{
		DBPath:           cli.DBPath,
		ExtensionPaths:   cli.ExtensionPaths,
		MaxResponseSize:  cli.MaxResponseSize,
		TxnTimeout:       cli.TxnTimeout,
		OpenRetryDelay:   cli.OpenRetryDelay,
		OpenRetryCount:   cli.OpenRetryCount,
		ColdStartRetries: cli.ColdStartRetries,
		ColdStartDelay:   cli.ColdStartDelay,
		MaxLogFrameCount: cli.MaxLogFrameCount,
		MaxLogDuration:   cli.MaxLogDuration,
	}
	store := config.NewStore()

	walLog, err := primary.Open(cli.WalDir, uuid.New(), cfg, nil, nil, logger)
	if err != nil {
		logger.Fatalf("opening replication log: %v", err)
	}
	defer walLog.Close()

	// The real embedded engine is out of scope (spec.md §1): this binary
	// runs against the same fake engine the test suite does, so the wire
	// protocol, worker lifecycle, and replication log are all exercised
	// end to end without a real SQLite binding linked in.
	f, err := factory.New(context.Background(), enginetest.Open(0), cfg.DBPath, walLog.Hook(), cfg, store, resultbuilder.Config{MaxSize: cfg.MaxResponseSize}, logger)
	if err != nil {
		logger.Fatalf("opening connection factory: %v", err)
	}
	defer f.Close()

	a := adapter.New(f, logger)
	authn := noopAuthenticator{}

	mux := http.NewServeMux()
	mux.Handle("/v2", hrana.NewHandler(func() *hrana.Session {
		return hrana.NewSession(a, authn)
	}, logger))

	logger.Infof("listening on %s", cli.ListenAddr)
	if err := http.ListenAndServe(cli.ListenAddr, mux); err != nil {
		logger.Fatalf("serving: %v", err)
	}
}
