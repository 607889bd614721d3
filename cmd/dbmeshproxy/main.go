package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbmesh/proxy/internal/api"
	"github.com/dbmesh/proxy/internal/config"
	"github.com/dbmesh/proxy/internal/health"
	"github.com/dbmesh/proxy/internal/metrics"
	"github.com/dbmesh/proxy/internal/mysql"
	"github.com/dbmesh/proxy/internal/planner"
	"github.com/dbmesh/proxy/internal/pool"
)

func main() {
	appConfigPath := flag.String("config", "configs/app.toml", "path to the app TOML config file")
	topologyPath := flag.String("topology", "configs/topology.yaml", "path to the cluster topology YAML file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("dbmesh proxy starting...")

	appCfg, err := config.LoadApp(*appConfigPath)
	if err != nil {
		log.Fatalf("failed to load app config: %v", err)
	}

	cluster, err := config.LoadCluster(*topologyPath)
	if err != nil {
		log.Fatalf("failed to load cluster topology: %v", err)
	}
	topo := config.NewTopologyHolder(cluster)
	log.Printf("topology loaded from %s (%d segments, %d dis_rules)", *topologyPath, len(cluster.Segments), len(cluster.DisRules))

	m := metrics.New()

	poolDefaults := config.DefaultPoolDefaults()
	pm := pool.NewManager(poolDefaults)
	pm.SetOnPoolExhausted(func(segment string) {
		m.PoolExhausted(segment)
	})
	pm.StartStatsLoop(5*time.Second, func(s pool.Stats) {
		m.UpdatePoolStats(s.Segment, s.Active, s.Idle, s.Total, s.Waiting)
	})

	hc := health.NewChecker(topo, m, pm, config.DefaultHealthCheckConfig())
	hc.Start()

	plan := planner.NewSingleSegmentPlanner(topo)
	executor := planner.NewExecutor(topo, pm, plan)

	mysqlServer := mysql.NewServer(executor)
	if err := mysqlServer.Listen(appCfg.Addr()); err != nil {
		log.Fatalf("failed to start mysql listener: %v", err)
	}

	apiServer := api.NewServer(topo, pm, hc, m, *appCfg)
	if err := apiServer.Start(); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}

	topologyWatcher, err := config.WatchTopology(*topologyPath, topo)
	if err != nil {
		log.Printf("warning: topology hot-reload not available: %v", err)
	}

	log.Printf("dbmesh proxy ready - mysql:%s admin:%s", appCfg.Addr(), appCfg.AdminAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	if topologyWatcher != nil {
		topologyWatcher.Stop()
	}
	apiServer.Stop()
	mysqlServer.Stop()
	hc.Stop()
	pm.Close()

	log.Printf("dbmesh proxy stopped")
}
