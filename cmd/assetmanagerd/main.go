// Copyright 2018-2019 CERN
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
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Command assetmanagerd runs the asset lifecycle HTTP service: it
// wires the object store, metadata store, and vector mirror adapters
// configured at startup to the lifecycle coordinator, starts the
// auto-archive/auto-destroy scheduler, and serves the HTTP API.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	ahttp "github.com/opencloud-eu/assetmanager/internal/http"
	"github.com/opencloud-eu/assetmanager/pkg/accesslog"
	"github.com/opencloud-eu/assetmanager/pkg/alog"
	"github.com/opencloud-eu/assetmanager/pkg/config"
	"github.com/opencloud-eu/assetmanager/pkg/lifecycle"
	"github.com/opencloud-eu/assetmanager/pkg/metastore"
	"github.com/opencloud-eu/assetmanager/pkg/objectstore"
	"github.com/opencloud-eu/assetmanager/pkg/scheduler"
	"github.com/opencloud-eu/assetmanager/pkg/token/jwtmanager"
	"github.com/opencloud-eu/assetmanager/pkg/vectormirror"
)

var logger = alog.New("assetmanagerd")

var (
	configPath string
	logMode    string
)

func main() {
	root := &cobra.Command{
		Use:   "assetmanagerd",
		Short: "Content-addressed, versioned asset-lifecycle manager",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a JSON config file (defaults omitted fields)")
	root.PersistentFlags().StringVar(&logMode, "log-mode", "dev", "log output encoding: dev or prod")

	root.AddCommand(serveCommand())
	root.AddCommand(migrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and lifecycle scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			store, err := openMetadataStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info().Msg("metadata schema migration complete")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(configPath)
}

func runServe() error {
	alog.Mode = logMode
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("unrecognized timezone, falling back to UTC")
		loc = time.UTC
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metaStore, err := openMetadataStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer metaStore.Close()

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	vectors, err := openVectorMirror(ctx, cfg)
	if err != nil {
		return err
	}
	if err := vectors.EnsureCollections(ctx); err != nil {
		logger.Warn().Err(err).Msg("vector mirror collection setup failed, continuing without it")
	}

	audit := accesslog.New(metaStore)
	coordinator := lifecycle.New(objects, metaStore, vectors, audit, loc, cfg.UploadConcurrency)

	sched := scheduler.New(coordinator, metaStore, loc)
	archiveSpec, err := hhmmToCron(cfg.AutoArchiveAt)
	if err != nil {
		return err
	}
	destroySpec, err := hhmmToCron(cfg.AutoDestroyAt)
	if err != nil {
		return err
	}
	if err := sched.Start(archiveSpec, destroySpec); err != nil {
		return err
	}
	defer sched.Stop()

	tokens := jwtmanager.New([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTAlgorithm, cfg.Auth.AccessTokenTTL)
	server := ahttp.NewServer(coordinator, metaStore, objects, cfg.Storage.RepositoryID, tokens, audit)

	ln, err := net.Listen(cfg.Network, cfg.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: server}
	go func() {
		logger.Info().Str("address", cfg.Address).Msg("listening")
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func openMetadataStore(ctx context.Context, cfg *config.Config) (*metastore.MySQL, error) {
	dsn := metastore.DSN(cfg.Metadata.User, cfg.Metadata.Password, cfg.Metadata.Host, cfg.Metadata.Port, cfg.Metadata.Database)
	return metastore.Open(ctx, dsn, cfg.Metadata.MaxOpenConns, cfg.Metadata.MaxIdleConns, cfg.Metadata.HeadCacheSize, cfg.Metadata.HeadCacheTTL)
}

func openObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseTLS,
	})
	if err != nil {
		return nil, err
	}
	adapter, err := objectstore.NewS3Adapter(client, cfg.Storage.DefaultBucket, cfg.Storage.PublicURL)
	if err != nil {
		return nil, err
	}
	if err := adapter.EnsureRepository(ctx, cfg.Storage.RepositoryID, cfg.Storage.DefaultBranch, cfg.Storage.DefaultBucket); err != nil {
		return nil, err
	}
	return adapter, nil
}

func openVectorMirror(ctx context.Context, cfg *config.Config) (vectormirror.Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr: net.JoinHostPort(cfg.Vector.Host, strconv.Itoa(cfg.Vector.Port)),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("vector mirror unreachable at startup, continuing degraded")
	}
	return vectormirror.NewRedis(client), nil
}

func hhmmToCron(hhmm string) (string, error) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return "", cronFormatError(hhmm)
	}
	hour := hhmm[0:2]
	minute := hhmm[3:5]
	return minute + " " + hour + " * * *", nil
}

type cronFormatError string

func (e cronFormatError) Error() string { return "invalid HH:MM time: " + string(e) }
