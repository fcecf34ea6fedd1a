package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/judwhite/go-svc"

	"github.com/nixxel-company-limited/receipt-bridge/adapter"
	"github.com/nixxel-company-limited/receipt-bridge/config"
	"github.com/nixxel-company-limited/receipt-bridge/connector"
	"github.com/nixxel-company-limited/receipt-bridge/escpos"
	"github.com/nixxel-company-limited/receipt-bridge/server"
	"github.com/nixxel-company-limited/receipt-bridge/supervisor"
)

var _ supervisor.Connector = (*connector.Connector)(nil)

// program runs the bridge as a service or from a console.
type program struct {
	envFile string
	conn    *connector.Connector
	srv     *server.Server
}

func (p *program) Init(env svc.Environment) error {
	cfg, err := config.Load(p.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	log.Printf("Transports enabled: %v", registry.Kinds())

	p.conn = connector.New(registry, connector.Config{PrinterName: cfg.PrinterName, Job: cfg.Job})
	sup := supervisor.New(p.conn, supervisor.Options{MaxRetries: cfg.RetryMax, BaseDelay: cfg.RetryDelay})
	p.srv = server.New(p.conn, sup, cfg.ServerAddress)
	log.Printf("Server will listen on: %s", cfg.ServerAddress)
	return nil
}

func (p *program) Start() error {
	if err := p.srv.StartAsync(); err != nil {
		return err
	}

	// Warm up the connection so the first receipt does not pay for it.
	go func() {
		if err := p.conn.AutoConnect(context.Background()); err != nil {
			log.Printf("No printer yet: %v", err)
		}
	}()
	return nil
}

func (p *program) Stop() error {
	err := p.srv.Stop()
	p.conn.Disconnect()
	return err
}

// buildRegistry registers the enabled transports.
func buildRegistry(cfg *config.Config) (*adapter.Registry, error) {
	cp, err := escpos.CodePage(cfg.CodePage)
	if err != nil {
		return nil, err
	}
	enc := escpos.Encoder{CodePage: cp}

	registry := adapter.NewRegistry()
	if cfg.Enabled(adapter.VendorDriver) {
		registry.Register(adapter.NewDriverTransport(adapter.DriverConfig{
			Interface: cfg.PrinterInterface,
			Timeout:   cfg.DriverTimeout,
			Encoder:   enc,
		}))
	}
	if cfg.Enabled(adapter.VendorUSBLibrary) {
		registry.Register(adapter.NewLibraryTransport(enc))
	}
	if cfg.Enabled(adapter.NativeSpooler) {
		registry.Register(adapter.NewSpoolerTransport(adapter.NewCUPS()))
	}
	if cfg.Enabled(adapter.RawUSB) {
		registry.Register(adapter.NewRawUSBTransport(cfg.VendorIDs))
	}
	return registry, nil
}

func main() {
	consoleMode := flag.Bool("console", false, "Run in console mode (not as service)")
	envFile := flag.String("env", ".env", "Environment file to load if present")
	flag.Parse()

	prg := &program{envFile: *envFile}

	if *consoleMode || isInteractive() {
		runConsole(prg)
		return
	}
	if err := svc.Run(prg, syscall.SIGINT, syscall.SIGTERM); err != nil {
		log.Fatal(err)
	}
}

func runConsole(prg *program) {
	if err := prg.Init(nil); err != nil {
		log.Fatalf("Init failed: %v", err)
	}
	if err := prg.Start(); err != nil {
		log.Fatalf("Start failed: %v", err)
	}
	log.Println("Receipt bridge running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if err := prg.Stop(); err != nil {
		log.Printf("Stop: %v", err)
	}
}

// isInteractive reports whether stdin is a terminal.
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
