package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memtier/internal/adapter/backend"
	"memtier/internal/adapter/notes"
	"memtier/internal/domain"
	"memtier/internal/infra/config"
	"memtier/internal/infra/logger"
	"memtier/internal/infra/tracer"
	"memtier/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd := "serve"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "maintain":
		err = runMaintain()
	case "sync":
		err = runSync()
	case "stats":
		err = runStats()
	case "export":
		err = runExport()
	case "import":
		err = runImport()
	case "doctor":
		err = runDoctor()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'memtier --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`memtier - tiered memory store

Usage:
  memtier [command]

Commands:
  serve     Run the store with scheduled maintenance and note sync (default)
  maintain  Run one decay/archival/consolidation pass and print counts
  sync      Run one markdown vault sync pass and print the summary
  stats     Print record counts by status and tier
  export    Write a full JSON snapshot to stdout
  import    Load a JSON snapshot from stdin
  doctor    Probe every backend and report availability

Configuration is read from $MEMTIER_CONFIG (default ./memtier.yaml);
MEMTIER_* environment variables override file values.`)
}

func configPath() string {
	if p := os.Getenv("MEMTIER_CONFIG"); p != "" {
		return p
	}
	return "memtier.yaml"
}

// app wires config into the running object graph.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *usecase.Store
	syncer *usecase.Syncer // nil when the vault is disabled
	vault  *notes.VaultAdapter

	closers []func() error
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, closeLog)

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdownTracer(context.Background()) })

	backends, err := buildBackends(cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}

	a.store = usecase.NewStore(backends, log,
		usecase.WithMaintenance(maintenanceConfig(cfg.Maintenance)))
	a.closers = append(a.closers, func() error { a.store.Close(); return nil })

	if cfg.Vault.Enabled {
		client := notes.NewHTTPNoteClient(cfg.Vault.BaseURL, cfg.Vault.APIKey,
			notes.WithVaultTimeout(cfg.Vault.Timeout),
			notes.WithVaultRateLimit(cfg.Vault.RequestsPerSec),
		)
		a.vault = notes.NewVaultAdapter(client, cfg.Vault.Root, log)
		a.syncer = usecase.NewSyncer(a.store, a.vault, log)
	}

	return a, nil
}

func buildBackends(cfg *config.Config, a *app) ([]domain.Backend, error) {
	var backends []domain.Backend

	if cfg.Hot.Enabled {
		client, err := backend.NewGoRedisClient(cfg.Hot.URL)
		if err != nil {
			return nil, fmt.Errorf("hot tier: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		backends = append(backends, backend.NewHotBackend(client, cfg.Hot.TTL))
	}

	warm, err := backend.NewWarmBackend(cfg.Warm.Path)
	if err != nil {
		return nil, fmt.Errorf("warm tier: %w", err)
	}
	backends = append(backends, warm)

	if cfg.Cold.Enabled {
		opts := []backend.GitContentOption{backend.WithGitTimeout(cfg.Cold.Timeout)}
		if cfg.Cold.Branch != "" {
			opts = append(opts, backend.WithGitBranch(cfg.Cold.Branch))
		}
		client := backend.NewGitContentClient(cfg.Cold.BaseURL, cfg.Cold.Repo, cfg.Cold.Token, opts...)
		backends = append(backends, backend.NewColdBackend(client, cfg.Cold.Root))
	}

	return backends, nil
}

// maintenanceConfig overlays file settings onto the engine defaults.
func maintenanceConfig(mc config.MaintenanceConfig) usecase.MaintenanceConfig {
	out := usecase.DefaultMaintenanceConfig()
	if mc.HalfLife > 0 {
		out.HalfLife = mc.HalfLife
	}
	if mc.Curve != "" {
		out.Curve = usecase.DecayCurve(mc.Curve)
	}
	if mc.AccessBoostWeight > 0 {
		out.AccessBoostWeight = mc.AccessBoostWeight
	}
	if mc.ImportanceWindow > 0 {
		out.ImportanceWindow = mc.ImportanceWindow
	}
	if mc.ImportanceFloor > 0 {
		out.ImportanceFloor = mc.ImportanceFloor
	}
	if mc.ArchiveThreshold > 0 {
		out.ArchiveThreshold = mc.ArchiveThreshold
	}
	if mc.SimilarityThreshold > 0 {
		out.SimilarityThreshold = mc.SimilarityThreshold
	}
	return out
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("shutdown error", "error", err)
		}
	}
}

func runServe() error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	avail := a.store.Probe(ctx)
	for name, ok := range avail {
		a.log.Info("backend probed", "backend", name, "available", ok)
	}

	sched := usecase.NewScheduler(a.log)
	if err := sched.Add("maintenance", a.cfg.Maintenance.Schedule, func(ctx context.Context) error {
		_, err := a.store.RunMaintenance(ctx)
		return err
	}); err != nil {
		return err
	}
	if a.syncer != nil {
		if err := sched.Add("vault-sync", a.cfg.Sync.Schedule, func(ctx context.Context) error {
			_, err := a.syncer.Sync(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	a.log.Info("memtier running", "config", configPath())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	a.log.Info("shutting down", "signal", s.String())
	return nil
}

func runMaintain() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.store.Probe(ctx)
	result, err := a.store.RunMaintenance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("scanned: %d\ndecayed: %d\narchived: %d\nconsolidations: %d\n",
		result.Scanned, result.Decayed, result.Archived, result.Consolidations)
	return nil
}

func runSync() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.syncer == nil {
		return fmt.Errorf("vault is not enabled in config")
	}
	a.store.Probe(ctx)
	result, err := a.syncer.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pushed: %d\npulled: %d\nconflicts: %d\nerrors: %d\n",
		result.Pushed, result.Pulled, result.Conflicts, result.Errors)
	return nil
}

func runStats() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.store.Probe(ctx)
	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runExport() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.store.Probe(ctx)
	snap, err := a.store.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func runImport() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap usecase.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	a.store.Probe(ctx)
	if err := a.store.Import(ctx, &snap); err != nil {
		return err
	}
	fmt.Printf("imported %d records\n", len(snap.Records))
	return nil
}

func runDoctor() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	avail := a.store.Probe(ctx)
	for name, ok := range avail {
		mark := "ok"
		if !ok {
			mark = "UNAVAILABLE"
		}
		fmt.Printf("%-12s %s\n", name, mark)
	}

	if a.vault != nil {
		status, err := a.vault.Status(ctx)
		if err != nil {
			fmt.Printf("%-12s UNAVAILABLE (%v)\n", "vault", err)
		} else {
			fmt.Printf("%-12s ok (vault %q)\n", "vault", status.VaultName)
		}
	}
	return nil
}
