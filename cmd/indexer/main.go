package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/kysee/zk-anon-vote/internal/chainlog"
	"github.com/kysee/zk-anon-vote/internal/indexer"
)

func main() {
	cfg := indexer.NewConfig(os.Args[1:]...)
	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	db, err := indexer.Open(cfg.DatabaseDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open indexer database")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.EnqueueUnfinished(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to re-enqueue unfinished ingest commands")
	}

	census := indexer.NewCensusIngester(db, cfg.MaxIngestConcurrency, log)
	description := indexer.NewDescriptionIngester(db, cfg.MaxIngestConcurrency, log)
	go census.Run(ctx)
	go description.Run(ctx)

	cursor, err := db.Cursor(ctx, "confirmed")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read cursor")
	}

	src := chainlog.NewHTTPRPCSource(cfg.RPCReadEndpoint, cfg.ProgramID)
	reader := chainlog.NewReader(src, log, defaultPollInterval)
	decoder := chainlog.NewDecoder(cfg.ProgramID, log)
	registerEventVariants(decoder)

	go consumeConfirmed(ctx, reader, decoder, db, log)

	go func() {
		if err := reader.Run(ctx, cursor); err != nil {
			log.Error().Err(err).Msg("chain log reader exited")
		}
	}()

	srv := indexer.NewServer(db, log)
	log.Info().Str("addr", cfg.ListenAddr).Msg("indexer listening")
	if err := srv.ListenAndServeTLS(cfg.ListenAddr, cfg.TLSCert, cfg.TLSKey); err != nil {
		log.Fatal().Err(err).Msg("indexer server exited")
	}
}

func consumeConfirmed(ctx context.Context, reader *chainlog.Reader, decoder *chainlog.Decoder, db *indexer.DB, log zerolog.Logger) {
	for tx := range reader.Confirmed() {
		events := decoder.Decode(tx.LogLines)
		if len(events) == 0 {
			continue
		}
		if err := db.ApplyEvents(ctx, tx.Signature, events); err != nil {
			log.Error().Err(err).Str("signature", tx.Signature).Msg("failed to apply event batch, cursor not advanced")
		}
	}
}
