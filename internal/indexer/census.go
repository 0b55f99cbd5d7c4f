package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	censusHTTPTimeout = 30 * time.Second
	censusLeafSize    = 32
	censusFlushEvery  = 10_000
)

// CensusIngester streams a poll's census file, chunking it into 32-byte
// leaves and batch-inserting voter_polls rows (spec §4.H "Census
// ingester").
type CensusIngester struct {
	db             *DB
	client         *http.Client
	maxConcurrency int64
	log            zerolog.Logger
}

func NewCensusIngester(db *DB, maxConcurrency int64, log zerolog.Logger) *CensusIngester {
	return &CensusIngester{
		db:             db,
		client:         &http.Client{},
		maxConcurrency: maxConcurrency,
		log:            log,
	}
}

// Run drains commands at most maxConcurrency at a time, cooperatively
// spawning one goroutine per in-flight ingest (spec §4.H "Concurrency").
func (c *CensusIngester) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(c.maxConcurrency)
	for cmd := range c.db.CensusCommands() {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(cmd CensusCmd) {
			defer sem.Release(1)
			if err := c.ingest(ctx, cmd); err != nil {
				c.log.Error().Err(err).Int64("poll_id", cmd.PollID).Msg("census ingest failed")
			} else {
				c.log.Info().Int64("poll_id", cmd.PollID).Msg("ingested census")
			}
		}(cmd)
	}
}

func (c *CensusIngester) ingest(ctx context.Context, cmd CensusCmd) error {
	var valid sql.NullBool
	err := c.db.conn.QueryRowContext(ctx, `SELECT census_valid FROM polls WHERE poll_id=$1`, cmd.PollID).Scan(&valid)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("indexer: read census_valid: %w", err)
	}
	if valid.Valid && valid.Bool {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, censusHTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cmd.CensusURL, nil)
	if err != nil {
		return fmt.Errorf("indexer: build census request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("indexer: fetch census: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer: census fetch status %d", resp.StatusCode)
	}

	if resp.ContentLength >= 0 {
		if resp.ContentLength%censusLeafSize != 0 {
			return c.markBad(ctx, cmd.PollID, "census size not divisible by 32")
		}
		if uint64(resp.ContentLength/censusLeafSize) != cmd.ExpectedVoters {
			return c.markBad(ctx, cmd.PollID, fmt.Sprintf("expected %d voters, content length implies %d", cmd.ExpectedVoters, resp.ContentLength/censusLeafSize))
		}
	}

	var buf []byte
	var batch [][32]byte
	var total uint64
	chunk := make([]byte, 64*1024)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := insertVoterPollsBatch(ctx, c.db.conn, cmd.PollID, batch); err != nil {
			return err
		}
		total += uint64(len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if total+uint64(len(buf)/censusLeafSize) > cmd.ExpectedVoters {
				return c.markBad(ctx, cmd.PollID, "too many voters")
			}
			for len(buf) >= censusLeafSize {
				var leaf [32]byte
				copy(leaf[:], buf[:censusLeafSize])
				batch = append(batch, leaf)
				buf = buf[censusLeafSize:]
				if len(batch) >= censusFlushEvery {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("indexer: stream census body: %w", readErr)
		}
	}

	if len(buf) != 0 {
		return c.markBad(ctx, cmd.PollID, "census size not divisible by 32")
	}
	if err := flush(); err != nil {
		return err
	}
	if total != cmd.ExpectedVoters {
		return c.markBad(ctx, cmd.PollID, fmt.Sprintf("expected %d voters, got %d", cmd.ExpectedVoters, total))
	}

	_, err = c.db.conn.ExecContext(ctx, `UPDATE polls SET census_valid=true WHERE poll_id=$1`, cmd.PollID)
	return err
}

func (c *CensusIngester) markBad(ctx context.Context, pollID int64, reason string) error {
	_, err := c.db.conn.ExecContext(ctx, `
		UPDATE polls SET census_valid=false, census_invalid_reason=$2 WHERE poll_id=$1
	`, pollID, reason)
	return err
}

func insertVoterPollsBatch(ctx context.Context, conn *sql.DB, pollID int64, leaves [][32]byte) error {
	query := "INSERT INTO voter_polls (poll_id, key_hash) VALUES "
	args := make([]interface{}, 0, 2*len(leaves))
	for i, leaf := range leaves {
		if i > 0 {
			query += ","
		}
		query += fmt.Sprintf("($%d,$%d)", 2*i+1, 2*i+2)
		leaf := leaf
		args = append(args, pollID, leaf[:])
	}
	query += " ON CONFLICT DO NOTHING"
	_, err := conn.ExecContext(ctx, query, args...)
	return err
}
