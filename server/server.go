// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package server serves a recorded profile to the Firefox Profiler.
package server // import "github.com/perfrecord/perfrecord/server"

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/perfrecord/perfrecord/profile"
)

const (
	viewerPrefix    = "https://profiler.firefox.com/from-url/"
	shutdownTimeout = 5 * time.Second
)

// Options configures Serve.
type Options struct {
	// Addr is the listen address, "127.0.0.1:0" when empty.
	Addr string
	// Open starts a browser on the viewer URL.
	Open bool
	// OpenURL starts the browser. The platform default is used when nil.
	OpenURL func(url string) error
}

// ViewerURL returns the Firefox Profiler URL that loads the profile at
// fileURL.
func ViewerURL(fileURL string) string {
	return viewerPrefix + url.QueryEscape(fileURL)
}

// Handler serves the file at path under its base name.
func Handler(path string) http.Handler {
	name := "/" + filepath.Base(path)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		if r.URL.Path != name {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet, http.MethodHead:
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("Failed to open %s: %v", path, err)
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.Set("Content-Type", "application/json")
		http.ServeContent(w, r, name, st.ModTime(), f)
	})
}

// Serve validates the profile at path and serves it until ctx is done.
func Serve(ctx context.Context, path string, opts Options) error {
	if _, err := profile.ReadFile(path); err != nil {
		return fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen at %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           Handler(path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fileURL := fmt.Sprintf("http://%s/%s", lis.Addr(), url.PathEscape(filepath.Base(path)))
	viewURL := ViewerURL(fileURL)
	log.Infof("Serving %s at %s", path, fileURL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if opts.Open {
		openURL := opts.OpenURL
		if openURL == nil {
			openURL = openBrowser
		}
		if err := openURL(viewURL); err != nil {
			log.Warnf("Failed to start a browser: %v", err)
			log.Infof("Open %s to view the profile", viewURL)
		}
	} else {
		log.Infof("Open %s to view the profile", viewURL)
	}
	return g.Wait()
}

func openBrowser(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
