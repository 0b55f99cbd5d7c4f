package indexer

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/kysee/zk-anon-vote/internal/chainlog"
)

// CensusCmd is a census-ingest fan-out command (spec §4.G "Fan-out").
type CensusCmd struct {
	PollID         int64
	CensusURL      string
	ExpectedVoters uint64
}

// DescriptionCmd is a description-ingest fan-out command.
type DescriptionCmd struct {
	PollID   int64
	URL      string
	NChoices uint8
}

// DB owns the connection pool and the two fan-out queues the CreatePoll
// handler feeds (spec §3 "Ownership": "the indexer owns its connection
// pool").
type DB struct {
	conn        *sql.DB
	census      *UnboundedQueue[CensusCmd]
	description *UnboundedQueue[DescriptionCmd]
	log         zerolog.Logger
}

func Open(dsn string, log zerolog.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("indexer: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("indexer: ping db: %w", err)
	}
	return &DB{
		conn:        conn,
		census:      NewUnboundedQueue[CensusCmd](),
		description: NewUnboundedQueue[DescriptionCmd](),
		log:         log,
	}, nil
}

func (d *DB) Close() error { return d.conn.Close() }

func (d *DB) CensusCommands() <-chan CensusCmd           { return d.census.Receive() }
func (d *DB) DescriptionCommands() <-chan DescriptionCmd { return d.description.Receive() }

// ApplyEvents applies one transaction's worth of decoded events
// atomically and then, only once committed, fans out CreatePoll
// side-effect commands (spec §4.G). Processing halts for this signature
// on any DB error; the cursor is left unadvanced so it is retried.
func (d *DB) ApplyEvents(ctx context.Context, signature string, events []chainlog.Event) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexer: begin tx: %w", err)
	}
	defer tx.Rollback()

	var created []CensusCmd
	var describe []DescriptionCmd

	for _, ev := range events {
		switch e := ev.(type) {
		case chainlog.CreatePollEvent:
			if err := insertPoll(ctx, tx, e); err != nil {
				return fmt.Errorf("indexer: insert poll: %w", err)
			}
			created = append(created, CensusCmd{PollID: int64(e.PollID), CensusURL: e.CensusURL, ExpectedVoters: e.ExpectedVoters})
			describe = append(describe, DescriptionCmd{PollID: int64(e.PollID), URL: e.DescriptionURL, NChoices: e.NChoices})

		case chainlog.VoteEvent:
			if err := insertVote(ctx, tx, e); err != nil {
				return fmt.Errorf("indexer: insert vote: %w", err)
			}

		case chainlog.FinishTallyEvent:
			if err := finishTally(ctx, tx, e); err != nil {
				return fmt.Errorf("indexer: finish tally: %w", err)
			}

		default:
			d.log.Warn().Str("signature", signature).Msg("indexer: unknown event type, skipping")
		}
	}

	if err := upsertCursor(ctx, tx, "confirmed", signature); err != nil {
		return fmt.Errorf("indexer: upsert cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("indexer: commit: %w", err)
	}

	for _, c := range created {
		d.census.Send(c)
	}
	for _, c := range describe {
		d.description.Send(c)
	}
	d.log.Info().Str("signature", signature).Int("events", len(events)).Msg("applied event batch")
	return nil
}

func insertPoll(ctx context.Context, tx *sql.Tx, e chainlog.CreatePollEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO polls (
			poll_id, n_choices, coord_x, coord_y, census_root,
			vote_start, vote_end, fees, fee_destination,
			description_url, census_url, expected_voters, tally_finished
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false)
		ON CONFLICT (poll_id) DO NOTHING
	`, int64(e.PollID), e.NChoices, e.CoordX[:], e.CoordY[:], e.CensusRoot[:],
		e.VoteStart, e.VoteEnd, int64(e.Fees), e.FeeDestination[:],
		e.DescriptionURL, e.CensusURL, int64(e.ExpectedVoters))
	return err
}

func insertVote(ctx context.Context, tx *sql.Tx, e chainlog.VoteEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO votes (poll_id, eph_x, eph_y, nonce, ciphertext)
		VALUES ($1,$2,$3,$4,$5)
	`, int64(e.PollID), e.EphX[:], e.EphY[:], int64(e.Nonce), e.Ciphertext[:])
	return err
}

func finishTally(ctx context.Context, tx *sql.Tx, e chainlog.FinishTallyEvent) error {
	if _, err := tx.ExecContext(ctx, `UPDATE polls SET tally_finished=true WHERE poll_id=$1`, int64(e.PollID)); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE poll_id=$1`, int64(e.PollID))
	return err
}

func upsertCursor(ctx context.Context, tx *sql.Tx, stream, signature string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursors (stream, last_sig) VALUES ($1,$2)
		ON CONFLICT (stream) DO UPDATE SET last_sig = EXCLUDED.last_sig
	`, stream, signature)
	return err
}

// Cursor returns the last processed signature for stream, or "" if none.
func (d *DB) Cursor(ctx context.Context, stream string) (string, error) {
	var sig string
	err := d.conn.QueryRowContext(ctx, `SELECT last_sig FROM cursors WHERE stream=$1`, stream).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("indexer: read cursor: %w", err)
	}
	return sig, nil
}

// EnqueueUnfinished scans for polls whose census or description ingest
// has not completed and re-enqueues them (spec §4.H "recovery path at
// boot").
func (d *DB) EnqueueUnfinished(ctx context.Context) error {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT poll_id, census_url, expected_voters FROM polls
		WHERE census_valid IS NULL OR census_valid = FALSE
	`)
	if err != nil {
		return fmt.Errorf("indexer: scan unfinished census: %w", err)
	}
	var census []CensusCmd
	for rows.Next() {
		var c CensusCmd
		if err := rows.Scan(&c.PollID, &c.CensusURL, &c.ExpectedVoters); err != nil {
			rows.Close()
			return fmt.Errorf("indexer: scan census row: %w", err)
		}
		census = append(census, c)
	}
	rows.Close()

	descRows, err := d.conn.QueryContext(ctx, `
		SELECT poll_id, description_url, n_choices FROM polls WHERE title IS NULL
	`)
	if err != nil {
		return fmt.Errorf("indexer: scan unfinished description: %w", err)
	}
	var descs []DescriptionCmd
	for descRows.Next() {
		var c DescriptionCmd
		if err := descRows.Scan(&c.PollID, &c.URL, &c.NChoices); err != nil {
			descRows.Close()
			return fmt.Errorf("indexer: scan description row: %w", err)
		}
		descs = append(descs, c)
	}
	descRows.Close()

	for _, c := range census {
		d.census.Send(c)
	}
	for _, c := range descs {
		d.description.Send(c)
	}
	d.log.Info().Int("census", len(census)).Int("description", len(descs)).Msg("re-enqueued unfinished ingest commands")
	return nil
}
