// Command heatgrid-monitor serves the run database recorded by heatgrid
// -db: a run list, echarts views of each run, and /debug/tailsql/.
//
//	heatgrid-monitor -db runs.db [-listen :8090]
//	heatgrid-monitor -db runs.db migrate up|down|status|version N|force N
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/heatgrid/internal/db"
	"github.com/banshee-data/heatgrid/internal/monitor"
	"github.com/banshee-data/heatgrid/internal/version"
)

var (
	dbPath      = flag.String("db", "heatgrid.db", "Run database written by heatgrid -db")
	listen      = flag.String("listen", ":8090", "Listen address")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws := monitor.NewWebServer(monitor.WebServerConfig{Address: *listen, DB: database})
	if err := ws.Start(ctx); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
