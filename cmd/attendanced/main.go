// Copyright 2024 The Attendly Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command attendanced runs the attendance engine's command surface
// behind a long-lived process: it wires a Service from flag-bound
// Config, and, when an ops address is configured, serves /metrics and
// /healthz for the duration of the process. The command surface
// itself (§6) has no HTTP transport of its own in this repository;
// driving it interactively is left to a REPL, a script, or a thin
// transport adapter built against internal/service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/attendly/facetrack/internal/config"
	"github.com/attendly/facetrack/internal/service"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg := config.Default()
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := service.NewService(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("could not start attendance engine")
	}
	defer cleanup()

	var opsServer *http.Server
	if cfg.MetricsAddr != "" {
		opsServer = newOpsServer(cfg.MetricsAddr, svc)
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("ops listener starting")
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("ops listener exited unexpectedly")
			}
		}()
	}

	log.Info("attendance engine ready")
	<-ctx.Done()
	log.Info("shutdown signal received")

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("ops listener did not shut down cleanly")
		}
	}

	if running, _ := svc.RecognitionStatus(); running {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := svc.RecognitionStop(stopCtx); err != nil {
			log.WithError(err).Warn("recognition worker did not stop cleanly during shutdown")
		}
	}
}

func newOpsServer(addr string, svc *service.Service) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		running, _ := svc.RecognitionStatus()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if running {
			w.Write([]byte("ok: recognition running\n"))
		} else {
			w.Write([]byte("ok: recognition idle\n"))
		}
	})
	return &http.Server{Addr: addr, Handler: mux}
}
