// Command taskgraphd is a minimal demonstration host for the task graph
// engine: it wires an in-memory model/resource/store/executor stack
// together, runs the builtin install workflow for a two-node deployment,
// and serves Prometheus metrics while it does so.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/taskgraphio/orchestrator/taskgraph"
	"github.com/taskgraphio/orchestrator/taskgraph/builtin"
	"github.com/taskgraphio/orchestrator/taskgraph/executor"
	"github.com/taskgraphio/orchestrator/taskgraph/model"
	"github.com/taskgraphio/orchestrator/taskgraph/resource"
	"github.com/taskgraphio/orchestrator/taskgraph/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	registry := prometheus.NewRegistry()
	metrics := taskgraph.NewEngineMetrics(registry)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)

	signals := taskgraph.NewSignals()
	taskgraph.NewLogSignalSink(os.Stdout, false).Attach(signals)
	taskgraph.NewOTelSignalSink(signals, "taskgraphd")

	mem := store.NewMemory()
	implementations := taskgraph.NewRegistry()
	implementations.Register("scripts.echo", func(ctx *taskgraph.OperationContext, inputs map[string]interface{}) error {
		fmt.Printf("[%s] running %s (attempt %d)\n", ctx.LoggingID(), ctx.TaskID, ctx.Attempt)
		return nil
	})

	engine, err := taskgraph.New(
		taskgraph.WithStore(mem),
		taskgraph.WithSignals(signals),
		taskgraph.WithMetrics(metrics),
		taskgraph.WithExecutorFactory(func(n taskgraph.ExecutorNotifications) taskgraph.Executor {
			return executor.NewThread(n, implementations, 4)
		}),
	)
	if err != nil {
		return fmt.Errorf("taskgraphd: build engine: %w", err)
	}
	defer engine.Close()

	catalog := demoCatalog()
	resources := resource.NewMemory()

	dep := builtin.Deployment{
		Nodes:         []taskgraph.Actor{mustNode(catalog, "db"), mustNode(catalog, "app")},
		Relationships: []taskgraph.Relationship{mustRelationship(catalog, "app-to-db")},
	}

	wfCtx := taskgraph.NewWorkflowContext("exec-1", "install", "deployment-1", "template-1", nil, catalog, resources, catalog, nil)
	scope := taskgraph.PushContext(wfCtx)
	defer scope.Close()

	g := taskgraph.NewGraph("install")
	if err := builtin.Install(g, dep); err != nil {
		return fmt.Errorf("taskgraphd: build install graph: %w", err)
	}

	srv := &http.Server{Addr: ":9090", Handler: promHandler(registry)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("taskgraphd: metrics server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := engine.Execute(ctx, g, wfCtx)
	fmt.Printf("execution finished: status=%s err=%v\n", status, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func promHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func demoCatalog() *model.Catalog {
	catalog := model.NewCatalog()
	catalog.AddNode(&model.Node{
		ID:   "db",
		Name: "db",
		Interfaces: map[string]*model.Interface{
			builtin.StandardInterface: {
				Name: builtin.StandardInterface,
				Operations: map[string]taskgraph.OperationSpec{
					builtin.OpCreate: {Implementation: "scripts.echo"},
					builtin.OpStart:  {Implementation: "scripts.echo"},
				},
			},
		},
	})
	catalog.AddNode(&model.Node{
		ID:   "app",
		Name: "app",
		Interfaces: map[string]*model.Interface{
			builtin.StandardInterface: {
				Name: builtin.StandardInterface,
				Operations: map[string]taskgraph.OperationSpec{
					builtin.OpCreate: {Implementation: "scripts.echo"},
					builtin.OpStart:  {Implementation: "scripts.echo"},
				},
			},
		},
	})
	catalog.AddRelationship(&model.Relationship{
		ID:     "app-to-db",
		Name:   "app-to-db",
		Source: "app",
		Target: "db",
		Interfaces: map[string]*model.Interface{
			builtin.ConfigureInterface: {
				Name:       builtin.ConfigureInterface,
				Operations: map[string]taskgraph.OperationSpec{},
			},
		},
	})
	return catalog
}

func mustNode(catalog *model.Catalog, id string) taskgraph.Actor {
	n, ok := catalog.GetNode(id)
	if !ok {
		log.Fatalf("taskgraphd: unknown node %q", id)
	}
	return n
}

func mustRelationship(catalog *model.Catalog, id string) taskgraph.Relationship {
	r, ok := catalog.GetRelationship(id)
	if !ok {
		log.Fatalf("taskgraphd: unknown relationship %q", id)
	}
	return r
}
