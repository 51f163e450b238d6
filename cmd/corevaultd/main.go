// Package main is corevaultd, the Location Pipeline's standalone daemon:
// loads a Config, opens the store, wires a CoreHandle, and serves the
// dispatcher and file server over HTTP. Structured the way
// cmd/authn/main.go drives its own process (flag parsing, a signal handler
// installed before flag.Parse, nlog set up from the loaded config, a
// deferred flush-and-close on exit).
/*
 * Copyright (c) 2024, corevault authors.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdcore/corevault/cmn"
	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/cmn/nlog"
	"github.com/sdcore/corevault/hk"
	"github.com/sdcore/corevault/store"
)

const svcName = "corevaultd"

var (
	build     string
	buildtime string

	configPath       string
	listenAddr       string
	instanceIdentity string
)

func init() {
	flag.StringVar(&configPath, "config", "", svcName+" configuration file")
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:52025", svcName+" HTTP listen address")
	flag.StringVar(&instanceIdentity, "identity", "", "this instance's owning identity")
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	installSignalHandler()
	flag.Parse()

	cfg, err := cmn.LoadConfig(configPath)
	if err != nil {
		cos.ExitLogf(logAndErr, "failed to load configuration from %q: %v", configPath, err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		cos.ExitLogf(logAndErr, "failed to create data directory %q: %v", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.ThumbnailDir(), 0o755); err != nil {
		cos.ExitLogf(logAndErr, "failed to create thumbnail directory: %v", err)
	}
	nlog.SetLogDir(cfg.DataDir)
	cmn.Rom.Set(cfg)
	nlog.Infof("%s version %s (build %s)", svcName, build, buildtime)

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		cos.ExitLogf(logAndErr, "failed to open store: %v", err)
	}
	defer st.Close()

	handle := NewCoreHandle(cfg, st, instanceIdentity)

	go hk.DefaultHK.Run()
	defer hk.DefaultHK.Stop()

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: buildMux(handle),
	}

	go func() {
		nlog.Infof("listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nlog.Errorf("http server stopped: %v", err)
		}
	}()

	waitForShutdown()

	nlog.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	handle.Shutdown()
	nlog.Flush(true)
}

// buildMux mounts the dispatcher's batch RPC endpoint alongside the file
// server's thumbnail/file routes under one handler.
func buildMux(handle *CoreHandle) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/thumbnail/", handle.Files.Handler())
	mux.Handle("/file/", handle.Files.Handler())
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(handle.RPC.HandleBatch(r.Context(), body))
	})
	return mux
}

var shutdownCh = make(chan os.Signal, 1)

func installSignalHandler() {
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
}

func waitForShutdown() { <-shutdownCh }

// logAndErr adapts nlog.Errorln to the func(string) ExitLogf wants, so a
// fatal startup error still lands in the log file before the process exits.
func logAndErr(msg string) { nlog.Errorln(msg) }

func printVer() {
	fmt.Printf("%s version %s (build %s)\n", svcName, build, buildtime)
}
