package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"DetStreamServer/discovery"
	"DetStreamServer/engine"
	proto "DetStreamServer/gRPC"
	"DetStreamServer/logger"
	"DetStreamServer/models"
	"DetStreamServer/monitor"
	"DetStreamServer/selection"
	"DetStreamServer/storage"
)

// GetOutboundIP finds the local egress IP by opening a UDP "connection" to a
// public address. No packet is sent; the routing table alone decides.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

func main() {
	ip, err := GetOutboundIP()
	if err != nil {
		fmt.Println("Failed to get outbound IP:", err)
		return
	}
	fmt.Println("Outbound IP:", ip)

	var wg sync.WaitGroup
	if err := logger.InitProduction(); err != nil {
		return
	}

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	runtime.GOMAXPROCS(CPUNum)
	fmt.Printf("CPU Cores: %d\n", CPUNum)

	config, err := loadConfig("config.yaml")
	if err != nil {
		fmt.Println("Failed to load config:", err)
		return
	}
	fmt.Println(" HTTP    Port:", config.HTTPPort)
	fmt.Println(" gRPC    Port:", config.RPCPort)
	fmt.Println(" Monitor Port:", config.MonitorPort)
	fmt.Println("Configured Workers Num:", config.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")
	if config.WorkersNum <= 0 {
		config.WorkersNum = 1
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Invalid workersNum in config, defaulting to 1")
		fmt.Println(strings.Repeat("!", 64))
	} else if config.WorkersNum > CPUNum {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println("Please noted that workersNum exceeds CPU cores, which may lead to performance degradation.")
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println("")
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("If you need GPU acceleration, please make sure that your GPU has enough memory to handle multiple workers.")
	fmt.Println("for GPU memory usage, please refer to 1280*1280 Yolo v8s model requires about 0.5GB memory each.")
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")

	if err := engine.LoadEngine(config.InferenceBackend); err != nil {
		fmt.Println("Invalid InferenceBackend in config:", err)
		return
	}
	if config.SelectionStroke != "" {
		if _, err := selection.NewBoard(1, 1, config.SelectionStroke); err != nil {
			fmt.Println("Invalid selectionStroke in config, keeping default:", err)
		} else {
			boardStroke = config.SelectionStroke
		}
	}

	if config.HistoryDB != "" {
		store, err := storage.Open(config.HistoryDB)
		if err != nil {
			fmt.Println("Failed to open history store:", err)
			return
		}
		histStore = store
		defer histStore.Close()
	}
	var janitor *storage.Janitor
	if histStore != nil && config.HistoryDays > 0 {
		retention := time.Duration(config.HistoryDays) * 24 * time.Hour
		janitor, err = storage.StartJanitor(histStore, config.JanitorSpec, retention)
		if err != nil {
			fmt.Println("Failed to start history janitor:", err)
			return
		}
	}

	catalog, err = models.NewCatalog(config.ModelsDir)
	if err != nil {
		fmt.Println("Failed to open model catalog:", err)
		return
	}
	if err := catalog.Watch(); err != nil {
		fmt.Println("Failed to watch models dir:", err)
	}
	proto.ModelsDir = catalog.Dir()
	fmt.Println("Models dir:", catalog.Dir())
	for _, m := range catalog.List() {
		fmt.Printf("  model: %s (%d bytes)\n", filepath.Base(m.Path), m.Size)
	}

	InstanceClass := instanceClassFromName(config.InstanceClass)
	discovery.RegServerCfg = discovery.RegServerConfig{}
	discovery.RegServerCfg.SetAddress(config.RegServerHost, config.RegServerPort)

	proto.JobQueue = make(chan proto.JobPackage, config.WorkersNum)
	proto.StartWorker(config.WorkersNum)
	proto.DSequences = make(map[string]proto.WorkerID)

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	if config.UseRegServer {
		go discovery.Heartbeat(ip, config.RPCPort, InstanceClass, ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
		wg.Done()
	}

	fmt.Println("Starting gRPC Server")
	server, err := proto.StartGRPCServer(config.RPCPort)
	if err != nil {
		fmt.Println("Failed to start gRPC server:", err)
		cancel()
		return
	}
	go monitor.StartMon(config.MonitorPort, ctx)
	httpSrv := startHTTP(config.HTTPPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-proto.CloseChannel:
		logger.S().Warn("Shutdown requested over gRPC")
	case s := <-sig:
		logger.S().Warnf("Received signal %v, shutting down", s)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.S().Errorf("HTTP shutdown error: %v", err)
	}
	shutdownCancel()
	server.GracefulStop()
	if janitor != nil {
		janitor.Stop()
	}
	_ = catalog.Close()
	fmt.Println("Done")
	wg.Wait()
	fmt.Println("Safely exited")
}
