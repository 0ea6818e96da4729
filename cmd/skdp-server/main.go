// Command skdp-server runs a long-lived SKDP server process: it accepts
// device connections, runs the KEX responder side (C5), and serves
// established sessions over the record layer (C6), using the keep-alive
// timeout (C7) as the idle read deadline, until the peer terminates or the
// deadline passes. The server sends no keep-alive probes of its own. Structure follows this repo's chatserver
// command: config.Load-equivalent, dependency wiring, then a signal-based
// graceful shutdown.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/QRCS-CORP/SKDP-sub001/internal/adminapi"
	"github.com/QRCS-CORP/SKDP-sub001/internal/archive"
	"github.com/QRCS-CORP/SKDP-sub001/internal/audit"
	"github.com/QRCS-CORP/SKDP-sub001/internal/config"
	"github.com/QRCS-CORP/SKDP-sub001/internal/keystore"
	"github.com/QRCS-CORP/SKDP-sub001/internal/metrics"
	"github.com/QRCS-CORP/SKDP-sub001/internal/ratelimit"
	"github.com/QRCS-CORP/SKDP-sub001/internal/registry"
	"github.com/QRCS-CORP/SKDP-sub001/internal/replay"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/kex"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keepalive"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/keys"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/profile"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/record"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/session"
	"github.com/QRCS-CORP/SKDP-sub001/internal/skdp/transport"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "skdp-server",
		Short: "Run an SKDP key exchange and record-layer server",
		RunE:  runServe,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// serverState wires up the resolvable server key store, master key, and
// the in-memory session registry the admin API introspects.
type serverState struct {
	mu       sync.Mutex
	master   *keys.MasterKey
	params   profile.Params
	keys     *keystore.FileStore
	sessions map[string]*adminapi.SessionSummary
}

func (s *serverState) Master() (*keys.MasterKey, profile.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master, s.params
}

func (s *serverState) SaveServerKey(sk *keys.ServerKey) error {
	name := fmt.Sprintf("%x.skey", sk.KID[:])
	return os.WriteFile(filepath.Join(s.keys.Dir, name), keys.EncodeServer(sk), 0600)
}

func (s *serverState) ListSessions() []adminapi.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]adminapi.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

func (s *serverState) track(kid string, suite string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[kid] = &adminapi.SessionSummary{
		KID:         kid,
		Suite:       suite,
		Phase:       session.PhaseEstablished.String(),
		EstablishAt: time.Now().UTC(),
	}
}

func (s *serverState) untrack(kid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, kid)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	params := profile.AES256GCM()
	switch cfg.Suite {
	case profile.SuiteRCS256:
		params = profile.RCS256()
	case profile.SuiteRCS512:
		params = profile.RCS512()
	}

	log.Printf("skdp-server: starting %s with suite %s", cfg.ServerID, params.Suite)

	if err := os.MkdirAll(cfg.KeyStoreDir, 0700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	fileStore := keystore.NewFileStore(cfg.KeyStoreDir, params)

	master, err := loadOrGenerateMaster(cfg.KeyStoreDir, params)
	if err != nil {
		return fmt.Errorf("load master key: %w", err)
	}

	auditLogger, err := audit.NewSQLiteLogger(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.Printf("warning: failed to close audit log: %v", err)
		}
	}()

	replayGuard := replay.Guard(replay.NewMemoryGuard())
	if cfg.RedisAddr != "" {
		replayGuard = replay.NewRedisGuard(cfg.RedisAddr, cfg.RedisDB, 24*time.Hour)
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Prune(time.Hour)
		}
	}()

	var archiver *archive.Archiver
	if cfg.MinioEndpoint != "" {
		archiveCtx, archiveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		archiver, err = archive.NewArchiver(archiveCtx, cfg.MinioEndpoint, cfg.MinioKey, cfg.MinioSecret, cfg.MinioBucket, cfg.MinioUseSSL)
		archiveCancel()
		if err != nil {
			log.Printf("warning: failed to connect to archive store: %v", err)
			archiver = nil
		}
	}

	state := &serverState{master: master, params: params, keys: fileStore, sessions: make(map[string]*adminapi.SessionSummary)}

	var serviceRegistry *registry.ConsulRegistry
	if cfg.ConsulAddr != "" {
		serviceRegistry, err = registry.NewConsulRegistry(cfg.ConsulAddr, cfg.ServerID, listenPort(cfg.ListenAddr))
		if err != nil {
			log.Printf("warning: failed to connect to Consul: %v", err)
		} else if err := serviceRegistry.Register(listenPort(cfg.AdminAddr)); err != nil {
			log.Printf("warning: failed to register with Consul: %v", err)
		} else {
			defer func() {
				if err := serviceRegistry.Deregister(); err != nil {
					log.Printf("warning: failed to deregister from Consul: %v", err)
				}
			}()
		}
	}

	api := adminapi.New(state, state)
	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.Handler([]string{"*"}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	log.Printf("skdp-server: KEX listener on %s", cfg.ListenAddr)

	// The admin API and the KEX accept loop run as errgroup members. Both
	// stop on signal; the group is waited on only after that, and an error
	// from the admin API is logged then.
	var g errgroup.Group
	g.Go(func() error {
		log.Printf("skdp-server: admin API listening on %s", cfg.AdminAddr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		acceptLoop(listener, fileStore, replayGuard, limiter, state, auditLogger, archiver, params)
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("skdp-server: received signal %v, shutting down", sig)

	_ = listener.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(ctx); err != nil {
		log.Printf("warning: admin API shutdown error: %v", err)
	}
	if err := g.Wait(); err != nil {
		log.Printf("warning: server group exited with error: %v", err)
	}
	return nil
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return profile.ServerPort
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	return port
}

func loadOrGenerateMaster(dir string, p profile.Params) (*keys.MasterKey, error) {
	path := filepath.Join(dir, "master.mkey")
	buf, err := os.ReadFile(path)
	if err == nil {
		return keys.DecodeMaster(buf, p)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	var mid [profile.MIDSize]byte
	if _, err := rand.Read(mid[:]); err != nil {
		return nil, err
	}
	master, err := keys.GenerateMasterKey(rand.Reader, p, mid)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, keys.EncodeMaster(master), 0600); err != nil {
		return nil, err
	}
	log.Printf("skdp-server: generated new master key at %s", path)
	return master, nil
}

func acceptLoop(listener net.Listener, resolver kex.ServerKeyResolver, guard replay.Guard, limiter *ratelimit.Limiter, state *serverState, auditLogger audit.Logger, archiver *archive.Archiver, params profile.Params) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("skdp-server: accept error: %v", err)
			return
		}
		go handleConn(conn, resolver, guard, limiter, state, auditLogger, archiver, params)
	}
}

func handleConn(conn net.Conn, resolver kex.ServerKeyResolver, guard replay.Guard, limiter *ratelimit.Limiter, state *serverState, auditLogger audit.Logger, archiver *archive.Archiver, params profile.Params) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if !limiter.Allow(remote) {
		log.Printf("skdp-server: rate limited connection from %s", remote)
		return
	}

	sock := transport.NewTCP(conn)
	sess := session.New(params)
	server := &kex.Server{Resolver: resolver, Sock: sock, Sess: sess}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	metrics.RecordHandshakeAttempt(sess.Params.Suite.String())
	if err := server.Accept(ctx); err != nil {
		metrics.RecordHandshakeResult(sess.Params.Suite.String(), false, time.Since(start))
		log.Printf("skdp-server: handshake failed from %s: %v", remote, err)
		return
	}
	metrics.RecordHandshakeResult(sess.Params.Suite.String(), true, time.Since(start))

	kidHex := fmt.Sprintf("%x", server.DeviceKey.KID[:])
	state.track(kidHex, sess.Params.Suite.String())
	defer state.untrack(kidHex)
	_ = auditLogger.Record(audit.Event{KID: kidHex, Suite: sess.Params.Suite.String(), Outcome: "established", At: time.Now().UTC()})

	channel := &record.Channel{Sock: sock, Sess: sess}
	serve(channel, kidHex, guard, auditLogger, archiver)
}

func serve(channel *record.Channel, kidHex string, guard replay.Guard, auditLogger audit.Logger, archiver *archive.Archiver) {
	ctx := context.Background()
	backend := "memory"
	if _, ok := guard.(*replay.RedisGuard); ok {
		backend = "redis"
	}
	for {
		readCtx, cancel := context.WithTimeout(ctx, keepalive.Timeout)
		plaintext, err := channel.Receive(readCtx)
		cancel()
		if err != nil {
			metrics.RecordError("receive")
			event := audit.Event{SessionID: channel.Sess.ID, KID: kidHex, Suite: channel.Sess.Params.Suite.String(), Outcome: "terminated", Detail: err.Error(), At: time.Now().UTC()}
			_ = auditLogger.Record(event)
			archiveSession(archiver, channel.Sess.ID, event)
			return
		}

		channel.Sess.Lock()
		rxSeq := channel.Sess.RXSeq
		channel.Sess.Unlock()

		accepted, err := guard.Accept(ctx, kidHex, rxSeq)
		if err != nil {
			log.Printf("skdp-server: replay guard error for %s: %v", kidHex, err)
		} else if !accepted {
			metrics.RecordReplayRejection(backend)
			continue
		}

		metrics.RecordMessage("received", len(plaintext))
	}
}

// archiveSession uploads a terminated session's final audit event to
// object storage for long-term retention. Archival is best-effort: a
// deployment without a configured object store just skips it.
func archiveSession(archiver *archive.Archiver, sessionID uuid.UUID, event audit.Event) {
	if archiver == nil {
		return
	}
	bundle, err := json.Marshal(event)
	if err != nil {
		log.Printf("skdp-server: failed to marshal audit bundle: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archiver.Upload(ctx, sessionID, bundle); err != nil {
		log.Printf("skdp-server: failed to archive session %s: %v", sessionID, err)
	}
}
