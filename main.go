package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/icetable/commit"
	"github.com/danthegoodman1/icetable/crdb"
	"github.com/danthegoodman1/icetable/datafile"
	"github.com/danthegoodman1/icetable/executor"
	"github.com/danthegoodman1/icetable/fileio"
	"github.com/danthegoodman1/icetable/gologger"
	"github.com/danthegoodman1/icetable/http_server"
	"github.com/danthegoodman1/icetable/migrations"
	"github.com/danthegoodman1/icetable/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting icetable")

	var fio fileio.FileIO
	switch utils.FILE_IO {
	case "local":
		fio = fileio.NewLocalFileIO()
	case "s3":
		if utils.S3_BUCKET_NAME == "" {
			logger.Error().Msg("S3_BUCKET_NAME is required when FILE_IO=s3")
			os.Exit(1)
		}
		s3FileIO, err := fileio.NewS3FileIO(utils.S3_BUCKET_NAME)
		if err != nil {
			logger.Error().Err(err).Msg("error creating S3 file io")
			os.Exit(1)
		}
		fio = s3FileIO
	default:
		logger.Error().Str("fileIO", utils.FILE_IO).Msg("unknown FILE_IO, expected local or s3")
		os.Exit(1)
	}

	pool := executor.NewPool(utils.COMPACT_POOL_SIZE)
	deps := http_server.Deps{
		FileIO:          fio,
		PathFactory:     datafile.NewPathFactory(utils.TABLE_ROOT),
		Executor:        pool,
		Sink:            commit.NewMemorySink(),
		BufferSizeBytes: utils.CHANGELOG_BUFFER_BYTES,
	}

	if utils.CRDB_DSN != "" {
		if err := crdb.ConnectToDB(); err != nil {
			logger.Error().Err(err).Msg("error connecting to CRDB")
			os.Exit(1)
		}

		if utils.MIGRATE {
			if _, err := migrations.RunMigrations(utils.CRDB_DSN); err != nil {
				logger.Error().Err(err).Msg("error running migrations")
				os.Exit(1)
			}
		}
		err := migrations.CheckMigrations(utils.CRDB_DSN)
		if err != nil {
			logger.Error().Err(err).Msg("Error checking migrations")
			os.Exit(1)
		}

		deps.Sink = crdb.NewCommitStore(crdb.PGPool)
		deps.Manifests = crdb.NewManifestStore(crdb.PGPool)
	} else {
		logger.Warn().Msg("CRDB_DSN not set, committing to memory and serving no manifest store")
	}

	httpServer := http_server.StartHTTPServer(deps)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	// Convert the time to seconds
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}
	if err := pool.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to drain compaction pool")
	}
	if crdb.PGPool != nil {
		crdb.PGPool.Close()
	}
}
