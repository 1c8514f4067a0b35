// Package main wires the ABAC policy core's components into a running
// process: the relational store, the Name->ID cache, the audit queue, and
// the authorization runner. It registers no HTTP routes of its own — the
// REST/gRPC surface a deployment exposes belongs to the calling service,
// not this core.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/eclipse-basyx/abac-policy-core/internal/audit"
	"github.com/eclipse-basyx/abac-policy-core/internal/cache"
	"github.com/eclipse-basyx/abac-policy-core/internal/common"
	"github.com/eclipse-basyx/abac-policy-core/internal/runner"
	"github.com/eclipse-basyx/abac-policy-core/internal/store"
)

// auditLogSink writes dropped-free audit entries to the process log; a real
// deployment swaps this for a durable sink without touching the runner.
type auditLogSink struct{}

func (auditLogSink) Write(ctx context.Context, e audit.Entry) error {
	log.Printf("audit realm=%s principal=%d type=%s action=%s granted=%t",
		e.Realm, e.PrincipalID, e.ResourceType, e.Action, e.Granted)
	return nil
}

// build assembles the runner and every component it depends on. It is the
// module's composition root; main calls it once at startup. No transport is
// attached to the returned runner here.
func build(ctx context.Context, configPath string) (*runner.Runner, error) {
	common.PrintSplash()

	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	db, err := common.InitializeDatabase(cfg.Postgres, "")
	if err != nil {
		return nil, err
	}

	s := store.New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	c := cache.New(store.NewCacheLoader(s), time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	auditQueue := audit.NewQueue(ctx, cfg.Audit.QueueCapacity, auditLogSink{})

	log.Println("ABAC policy core ready")
	return runner.New(c, s, auditQueue, 0), nil
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := build(ctx, *configPath); err != nil {
		log.Fatalf("abaccore: %v", err)
	}

	<-ctx.Done()
	log.Println("shutting down")
}
