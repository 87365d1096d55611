// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// The master binary supervises server workers. It re-spawns workers
// that die, forwards termination with a shutdown timeout, and in watch
// mode signals workers to reload when the resource directory changes.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/tessella-io/facet/core/logger"
)

type masterConfig struct {
	ResourcesPath string `json:"resourcesPath"`
}

type worker struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

func (w *worker) signal(sig syscall.Signal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Signal(sig)
	}
}

func run() error {
	serverBin := flag.String("server", "server", "path to the server binary")
	workers := flag.Int("workers", 2, "number of worker processes")
	startupTimeout := flag.Duration("startup-timeout", 30*time.Second, "workers exiting sooner than this are restarted after a 2s back-off")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "time workers get to finish")
	watch := flag.Bool("watch", false, "watch the resource directory and hot-reload workers")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: master [flags] <config-file>")
	}
	configPath := flag.Arg(0)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	cfg := masterConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopping := false
	var stopMu sync.Mutex
	isStopping := func() bool {
		stopMu.Lock()
		defer stopMu.Unlock()
		return stopping
	}

	pool := make([]*worker, *workers)
	var wg sync.WaitGroup
	for i := range pool {
		pool[i] = &worker{}
		wg.Add(1)
		go func(w *worker, id int) {
			defer wg.Done()
			for !isStopping() {
				cmd := exec.Command(*serverBin, configPath)
				cmd.Stdout = os.Stdout
				cmd.Stderr = os.Stderr
				w.mu.Lock()
				w.cmd = cmd
				w.mu.Unlock()
				started := time.Now()
				if err := cmd.Run(); err != nil && !isStopping() {
					logger.Default().WithError(err).Errorf("worker %d exited", id)
				}
				if isStopping() {
					return
				}
				if time.Since(started) < *startupTimeout {
					// a worker dying this fast will keep dying, back off
					time.Sleep(2 * time.Second)
				}
			}
		}(pool[i], i)
	}

	if *watch && cfg.ResourcesPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		filepath.Walk(cfg.ResourcesPath, func(path string, info os.FileInfo, err error) error {
			if err == nil && info.IsDir() {
				watcher.Add(path)
			}
			return nil
		})
		go func() {
			for event := range watcher.Events {
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if strings.HasPrefix(filepath.Base(event.Name), ".") {
					continue
				}
				logger.Default().Infoln("resource change detected:", event.Name)
				for _, w := range pool {
					w.signal(syscall.SIGHUP)
				}
			}
		}()
	}

	<-stop
	stopMu.Lock()
	stopping = true
	stopMu.Unlock()
	for _, w := range pool {
		w.signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(*shutdownTimeout):
		for _, w := range pool {
			w.signal(syscall.SIGKILL)
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
