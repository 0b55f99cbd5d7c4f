package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	descriptionHTTPTimeout = 30 * time.Second
	descriptionBytesLimit  = 64 * 1024
	maxTitleLen            = 100
	maxChoices             = 8
	maxChoiceLen           = 100
)

// DescriptionIngester fetches and validates a poll's description JSON
// (spec §4.H "Description ingester").
type DescriptionIngester struct {
	db             *DB
	client         *http.Client
	maxConcurrency int64
	log            zerolog.Logger
}

func NewDescriptionIngester(db *DB, maxConcurrency int64, log zerolog.Logger) *DescriptionIngester {
	return &DescriptionIngester{
		db:             db,
		client:         &http.Client{},
		maxConcurrency: maxConcurrency,
		log:            log,
	}
}

func (d *DescriptionIngester) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(d.maxConcurrency)
	for cmd := range d.db.DescriptionCommands() {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(cmd DescriptionCmd) {
			defer sem.Release(1)
			if err := d.ingest(ctx, cmd); err != nil {
				d.log.Error().Err(err).Int64("poll_id", cmd.PollID).Msg("description ingest failed")
			} else {
				d.log.Info().Int64("poll_id", cmd.PollID).Msg("description cached")
			}
		}(cmd)
	}
}

type descriptionPayload struct {
	Title   string   `json:"title"`
	Choices []string `json:"choices"`
}

func (d *DescriptionIngester) ingest(ctx context.Context, cmd DescriptionCmd) error {
	var title sql.NullString
	err := d.db.conn.QueryRowContext(ctx, `SELECT title FROM polls WHERE poll_id=$1`, cmd.PollID).Scan(&title)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("indexer: read title: %w", err)
	}
	if title.Valid {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, descriptionHTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cmd.URL, nil)
	if err != nil {
		return fmt.Errorf("indexer: build description request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("indexer: fetch description: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer: description fetch status %d", resp.StatusCode)
	}
	if resp.ContentLength > descriptionBytesLimit {
		return d.markBad(ctx, cmd.PollID, "description too large")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, descriptionBytesLimit+1))
	if err != nil {
		return fmt.Errorf("indexer: stream description body: %w", err)
	}
	if len(body) > descriptionBytesLimit {
		return d.markBad(ctx, cmd.PollID, "description too large (>64KiB)")
	}

	var payload descriptionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return d.markBad(ctx, cmd.PollID, "invalid JSON")
	}

	title2 := strings.TrimSpace(payload.Title)
	if title2 == "" || utf8.RuneCountInString(title2) > maxTitleLen {
		return d.markBad(ctx, cmd.PollID, "invalid title length")
	}
	if len(payload.Choices) == 0 || len(payload.Choices) > maxChoices {
		return d.markBad(ctx, cmd.PollID, "invalid choices count")
	}
	if len(payload.Choices) != int(cmd.NChoices) {
		return d.markBad(ctx, cmd.PollID, "choices count != n_choices")
	}
	choices := make([]string, len(payload.Choices))
	for i, raw := range payload.Choices {
		c := strings.TrimSpace(raw)
		if c == "" || utf8.RuneCountInString(c) > maxChoiceLen {
			return d.markBad(ctx, cmd.PollID, "choice length invalid")
		}
		choices[i] = c
	}

	_, err = d.db.conn.ExecContext(ctx, `
		UPDATE polls SET title=$2, choices=$3 WHERE poll_id=$1
	`, cmd.PollID, title2, pq.Array(choices))
	return err
}

func (d *DescriptionIngester) markBad(ctx context.Context, pollID int64, reason string) error {
	_, err := d.db.conn.ExecContext(ctx, `
		UPDATE polls SET description_invalid_reason=$2 WHERE poll_id=$1
	`, pollID, reason)
	return err
}
