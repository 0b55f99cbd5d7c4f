package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/kysee/zk-anon-vote/internal/relayer"
	"github.com/kysee/zk-anon-vote/internal/state"

	"github.com/kysee/zk-anon-vote/internal/prover"
)

func main() {
	cfg := relayer.NewConfig(os.Args[1:]...)
	log := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	store, err := state.Open(cfg.RocksDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer store.Close()

	pv := prover.New(cfg.CircuitDir)
	if err := pv.Setup(); err != nil {
		log.Fatal().Err(err).Msg("failed to set up circuit")
	}

	feePayer, relayerProgramID, err := loadKeys(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load relayer keys")
	}

	submitter := relayer.NewRPCSubmitter(cfg.RPCWriteEndpoint)
	r := relayer.New(store, pv, submitter, feePayer, relayerProgramID, cfg.MsgLimit, log)
	srv := relayer.NewServer(r, log)

	log.Info().Str("addr", cfg.ListenAddr).Msg("relayer listening")
	if err := srv.ListenAndServeTLS(cfg.ListenAddr, cfg.TLSCert, cfg.TLSKey); err != nil {
		log.Fatal().Err(err).Msg("relayer server exited")
	}
}

// loadKeys resolves the relayer's fee-payer keypair and the on-chain
// relayer program ID from config. Keypair file formats and signing are
// an external collaborator (spec §1 "Out of scope"); here we only need
// the public keys this package's PDA derivations and transaction
// accounts consume.
func loadKeys(cfg *relayer.Config) (feePayer, programID relayer.Pubkey, err error) {
	programID, err = relayer.ParsePubkey(cfg.RelayerProgramID)
	if err != nil {
		return relayer.Pubkey{}, relayer.Pubkey{}, err
	}
	raw, err := os.ReadFile(cfg.FeePayerKeyPath)
	if err != nil {
		return relayer.Pubkey{}, relayer.Pubkey{}, err
	}
	feePayer, err = relayer.ParsePubkey(string(raw))
	return feePayer, programID, err
}
