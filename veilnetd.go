// Copyright (c) 2024-2026 The Veilnet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/veilnet/veilnetd/internal/version"
)

var cfg *config

// veilnetdMain is the real main function for veilnetd.  It is necessary
// to work around the fact that deferred functions do not run when
// os.Exit() is called.
func veilnetdMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	tcfg, peerURLs, err := loadConfig(appName)
	if err != nil {
		usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
		fmt.Fprintln(os.Stderr, err)
		var e errSuppressUsage
		if !errors.As(err, &e) {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem such as the connection manager.
	ctx := shutdownListener()
	defer vntdLog.Info("Shutdown complete")

	// Show version at startup.
	vntdLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	vntdLog.Infof("Home dir: %s", cfg.AppData)
	if cfg.NoFileLogging {
		vntdLog.Info("File logging disabled")
	}

	svr, err := newServer(cfg)
	if err != nil {
		vntdLog.Errorf("Unable to create server: %v", err)
		return err
	}
	if err := svr.run(ctx, peerURLs); err != nil {
		vntdLog.Errorf("Unable to run server: %v", err)
		return err
	}
	return nil
}

func main() {
	// Work around defer not working after os.Exit()
	if err := veilnetdMain(); err != nil {
		os.Exit(1)
	}
}
