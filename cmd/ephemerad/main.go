// The ephemerad binary is the ephemera server: it loads a TOML config,
// wires every pkg/* component into pkg/httpapi, and serves §6's HTTP
// surface until a termination signal arrives.
//
// Grounded on the teacher's server/camlistored/camlistored.go main():
// the same shutdownc-channel-plus-signal-goroutine shape, fatal-on-
// error bootstrapping, and a blocking ListenAndServe tail, adapted from
// camlistored's SIGHUP-restart/SIGINT-shutdown pair to this server's
// SIGTERM-shutdown/SIGUSR1-log-reopen pair (§6's "Environment /
// signals").
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/securecookie"

	"ephemera/internal/config"
	"ephemera/internal/logging"
	"ephemera/pkg/apperr"
	"ephemera/pkg/archive"
	"ephemera/pkg/blobstore"
	"ephemera/pkg/httpapi"
	"ephemera/pkg/legacymigrate"
	"ephemera/pkg/notify"
	"ephemera/pkg/p2p"
	"ephemera/pkg/quota"
	"ephemera/pkg/relay"
	"ephemera/pkg/store"
	"ephemera/pkg/tarindex"
	"ephemera/pkg/upload"
)

// version is stamped at build time in a release build; a development
// build reports "dev".
var version = "dev"

var (
	flagConfig  = flag.String("c", "ephemerad.toml", "path to the TOML configuration file")
	flagMigrate = flag.String("migrate", "", "import a legacy index.toml from the given directory, then exit")
)

func exitf(pattern string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, pattern+"\n", args...)
	os.Exit(1)
}

// archiveStore adapts the metadata store and blob directory to
// pkg/archive.Store's narrow ArchivePath contract.
type archiveStore struct {
	st    *store.Store
	blobs *blobstore.Store
}

func (a archiveStore) ArchivePath(id string) (path, mime string, err error) {
	cd, err := a.st.GetContentDescriptor(context.Background(), id)
	if err != nil {
		return "", "", err
	}
	return a.blobs.ContentPath(cd.ID, cd.Ext), cd.MIME, nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		exitf("config: %v", err)
	}

	if *flagMigrate != "" {
		runMigration(cfg, *flagMigrate)
		return
	}

	logs, err := logging.New(cfg.Log.Path, cfg.Log.Level)
	if err != nil {
		exitf("logging: %v", err)
	}

	shutdownc := make(chan io.Closer, 1)
	reopenc := make(chan struct{}, 1)
	go handleSignals(shutdownc, reopenc, logs)
	go watchReopen(reopenc, logs)

	blobs, err := blobstore.Open(cfg.Storage.Path)
	if err != nil {
		exitf("blob store: %v", err)
	}
	dbPath := cfg.Storage.Path + "/ephemera.db"
	st, err := store.Open(dbPath)
	if err != nil {
		exitf("metadata store: %v", err)
	}

	q := quota.New(cfg.EffectiveQuota(), st)

	hashKey, err := randomKey(64)
	if err != nil {
		exitf("generating cookie hash key: %v", err)
	}
	blockKey, err := randomKey(32)
	if err != nil {
		exitf("generating cookie block key: %v", err)
	}
	bus := notify.New(hashKey, blockKey)

	up := upload.New(blobs, st, q, bus)
	p2pMgr := p2p.New(bus)
	relayMgr := relay.New(p2pMgr)
	archiveSvc := archive.New(archiveStore{st: st, blobs: blobs}, tarindex.New())

	deps := httpapi.Deps{
		Upload: up, Store: st, Quota: q, Bus: bus,
		Archive: archiveSvc, P2P: p2pMgr, Relay: relayMgr, Blobs: blobs,
		AuthSecret: []byte(cfg.Authorize.Secret), Version: version,
	}
	api := httpapi.New(deps, logs)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: api}

	sweepTicker := time.NewTicker(upload.SessionTTL)
	go func() {
		for range sweepTicker.C {
			if err := up.SweepOrphanedStaging(); err != nil {
				logs.Process.Warnw("staging sweep failed", "error", err)
			}
		}
	}()

	shutdownc <- closerFunc(func() error {
		sweepTicker.Stop()
		p2pMgr.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := httpServer.Shutdown(ctx)
		logs.Sync()
		st.Close()
		return err
	})

	if cfg.HTTPS.Port != 0 {
		go func() {
			httpsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.HTTPS.Port)
			logs.Process.Infow("https listener starting", "addr", httpsAddr)
			if err := http.ListenAndServeTLS(httpsAddr, cfg.HTTPS.Cert, cfg.HTTPS.Key, api); err != nil && err != http.ErrServerClosed {
				logs.Process.Errorw("https listener exited", "error", err)
			}
		}()
	}

	logs.Process.Infow("listening", "addr", addr, "version", version)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		exitf("listen: %v", err)
	}
}

func runMigration(cfg *config.Config, legacyDir string) {
	st, err := store.Open(cfg.Storage.Path + "/ephemera.db")
	if err != nil {
		exitf("metadata store: %v", err)
	}
	defer st.Close()

	result, err := legacymigrate.Import(context.Background(), legacyDir, st)
	if err != nil {
		exitf("migration failed: %v", err)
	}
	log.Printf("migration complete: %d imported, %d skipped, %d total", result.Imported, result.Skipped, result.Total)
}

// handleSignals mirrors camlistored.go's handleSignals: SIGUSR1 asks
// the logging sinks to reopen in place (for external log rotation);
// SIGTERM drains shutdownc and gives it 2 seconds before forcing exit,
// the same budget camlistored.go gives its own graceful shutdown.
func handleSignals(shutdownc <-chan io.Closer, reopenc chan<- struct{}, logs *logging.Loggers) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range c {
		switch sig {
		case syscall.SIGUSR1:
			select {
			case reopenc <- struct{}{}:
			default:
			}
		case syscall.SIGTERM:
			logs.Process.Infow("received SIGTERM, shutting down")
			donec := make(chan error, 1)
			go func() {
				cl := <-shutdownc
				donec <- cl.Close()
			}()
			select {
			case err := <-donec:
				if err != nil {
					exitf("error shutting down: %v", err)
				}
				os.Exit(0)
			case <-time.After(2 * time.Second):
				exitf("timeout shutting down, exiting uncleanly")
			}
		}
	}
}

func watchReopen(reopenc <-chan struct{}, logs *logging.Loggers) {
	for range reopenc {
		if err := logs.Reopen(); err != nil {
			logs.Process.Errorw("log reopen failed", "error", err)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func randomKey(n int) ([]byte, error) {
	k := securecookie.GenerateRandomKey(n)
	if k == nil {
		return nil, apperr.New(apperr.KindInternal, "failed to generate random cookie key")
	}
	return k, nil
}
