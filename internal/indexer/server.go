package indexer

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Server exposes the indexer's read API over TLS on port 8443 (spec §6
// "Indexer HTTP").
type Server struct {
	db     *DB
	log    zerolog.Logger
	router chi.Router
}

func NewServer(db *DB, log zerolog.Logger) *Server {
	s := &Server{db: db, log: log}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/polls/{poll_id}", s.handleGetPoll)
	r.Get("/polls/{poll_id}/votes", s.handleGetVotes)
	r.Get("/voters/{key_hash}/polls", s.handleGetVoterPolls)
	r.Get("/coordinators/{xy}/polls", s.handleGetCoordinatorPolls)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	return http.ListenAndServeTLS(addr, certFile, keyFile, s)
}

func clampLimit(raw string, lo, hi, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	pollID, err := strconv.ParseInt(chi.URLParam(r, "poll_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad poll_id", http.StatusBadRequest)
		return
	}

	var p Poll
	var coordX, coordY, censusRoot, feeDest []byte
	err = s.db.conn.QueryRowContext(r.Context(), `
		SELECT poll_id, n_choices, coord_x, coord_y, census_root, vote_start, vote_end,
		       fees, fee_destination, description_url, census_url, expected_voters,
		       title, choices, tally_finished
		FROM polls WHERE poll_id=$1 AND title IS NOT NULL AND census_valid=true
	`, pollID).Scan(&p.PollID, &p.NChoices, &coordX, &coordY, &censusRoot, &p.VoteStart, &p.VoteEnd,
		&p.Fees, &feeDest, &p.DescriptionURL, &p.CensusURL, &p.ExpectedVoters,
		&p.Title, pq.Array(&p.Choices), &p.TallyFinished)
	if err == sql.ErrNoRows {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("indexer: get poll query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	copy(p.CoordX[:], coordX)
	copy(p.CoordY[:], coordY)
	copy(p.CensusRoot[:], censusRoot)
	copy(p.FeeDestination[:], feeDest)
	writeJSON(w, p)
}

func (s *Server) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	pollID, err := strconv.ParseInt(chi.URLParam(r, "poll_id"), 10, 64)
	if err != nil {
		http.Error(w, "bad poll_id", http.StatusBadRequest)
		return
	}
	limit := clampLimit(r.URL.Query().Get("limit"), 1, 1000, 100)
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)

	rows, err := s.db.conn.QueryContext(r.Context(), `
		SELECT id, poll_id, eph_x, eph_y, nonce, ciphertext
		FROM votes WHERE poll_id=$1 AND id > $2
		ORDER BY id ASC LIMIT $3
	`, pollID, after, limit+1)
	if err != nil {
		s.log.Error().Err(err).Msg("indexer: get votes query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var page VotesPage
	for rows.Next() {
		var v Vote
		var ephX, ephY, ct []byte
		if err := rows.Scan(&v.ID, &v.PollID, &ephX, &ephY, &v.Nonce, &ct); err != nil {
			s.log.Error().Err(err).Msg("indexer: scan vote row failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		copy(v.EphX[:], ephX)
		copy(v.EphY[:], ephY)
		copy(v.Ciphertext[:], ct)
		page.Items = append(page.Items, v)
	}
	if len(page.Items) > limit {
		next := page.Items[limit-1].ID
		page.NextAfter = &next
		page.Items = page.Items[:limit]
	}
	writeJSON(w, page)
}

func (s *Server) handleGetVoterPolls(w http.ResponseWriter, r *http.Request) {
	keyHash, err := hex.DecodeString(chi.URLParam(r, "key_hash"))
	if err != nil || len(keyHash) != 32 {
		http.Error(w, "bad key_hash", http.StatusBadRequest)
		return
	}
	limit := clampLimit(r.URL.Query().Get("limit"), 1, 500, 50)
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)

	rows, err := s.db.conn.QueryContext(r.Context(), `
		SELECT p.poll_id FROM polls p
		JOIN voter_polls vp ON vp.poll_id = p.poll_id
		WHERE vp.key_hash=$1 AND p.poll_id > $2
		ORDER BY p.poll_id ASC LIMIT $3
	`, keyHash, after, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("indexer: get voter polls query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, pollIDList(rows, s.log))
}

func (s *Server) handleGetCoordinatorPolls(w http.ResponseWriter, r *http.Request) {
	xy, err := hex.DecodeString(chi.URLParam(r, "xy"))
	if err != nil || len(xy) != 64 {
		http.Error(w, "bad coordinator xy", http.StatusBadRequest)
		return
	}
	coordX, coordY := xy[:32], xy[32:]
	limit := clampLimit(r.URL.Query().Get("limit"), 1, 500, 50)
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)

	rows, err := s.db.conn.QueryContext(r.Context(), `
		SELECT poll_id FROM polls
		WHERE coord_x=$1 AND coord_y=$2 AND poll_id > $3
		ORDER BY poll_id ASC LIMIT $4
	`, coordX, coordY, after, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("indexer: get coordinator polls query failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, pollIDList(rows, s.log))
}

func pollIDList(rows *sql.Rows, log zerolog.Logger) []int64 {
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			log.Error().Err(err).Msg("indexer: scan poll id failed")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
