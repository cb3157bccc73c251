package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jinzhu/gorm"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/authentication"
	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/engine"
	"github.com/verity-subnet/verity-pool/registry"
	"github.com/verity-subnet/verity-pool/scoring"
)

var (
	wLog = log.WithFields(log.Fields{"mod": "web"})
)

// Pool is the slice of the engine the web layer drives.
type Pool interface {
	NewSubmission(ctx context.Context, wallet, hotkey, coldkey, gistURL string) (*registry.Submission, error)
	Status() engine.PoolStatus
}

type HttpServices struct {
	Pool    Pool
	Board   *scoring.Board
	Primary *http.Server
	conf    *viper.Viper
	db      *gorm.DB
}

func NewHttpServices(conf *viper.Viper, db *gorm.DB) *HttpServices {
	s := new(HttpServices)
	s.conf = conf
	s.db = db
	return s
}

func (s *HttpServices) SetPool(p Pool) {
	s.Pool = p
}

func (s *HttpServices) SetBoard(b *scoring.Board) {
	s.Board = b
}

func (s *HttpServices) InitPrimary() {
	primaryMux := http.NewServeMux()

	primaryMux.HandleFunc("/health", s.Health)
	primaryMux.Handle("/metrics", promhttp.Handler())

	primaryMux.HandleFunc("/api/v1/miners/submission", s.MinerSubmission)

	apiBase := "/api/v1"
	primaryMux.Handle(apiBase, s.APIMux(apiBase))

	s.Primary = &http.Server{
		Handler: primaryMux,
		Addr:    fmt.Sprintf("0.0.0.0:%d", s.conf.GetInt(config.ConfigWebPort)),
	}
}

func (s *HttpServices) Listen() {
	wLog.Infof("Serving primary web on %s", s.Primary.Addr)
	go s.Primary.ListenAndServe()
}

func (s *HttpServices) Close() error {
	_ = s.Primary.Close()
	return nil
}

func (s *HttpServices) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// SubmissionReply is the intake answer for both accepted and refused
// attempts.
type SubmissionReply struct {
	SubmissionID      string `json:"submission_id,omitempty"`
	Status            string `json:"status,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	CooldownRemaining string `json:"cooldown_remaining,omitempty"`
	RetryAt           string `json:"retry_at,omitempty"`
	Error             string `json:"error,omitempty"`
}

// MinerSubmission is the intake endpoint. Identity rides in headers:
// the wallet, the gist url and an ed25519 signature over
// "<wallet>:<gist_url>".
func (s *HttpServices) MinerSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, SubmissionReply{Error: "POST only"})
		return
	}

	wallet := r.Header.Get("wallet")
	signature := r.Header.Get("signature")
	gistURL := r.Header.Get("gist_url")
	if wallet == "" || signature == "" || gistURL == "" {
		writeJSON(w, http.StatusBadRequest, SubmissionReply{Error: "wallet, signature and gist_url headers are required"})
		return
	}

	if err := authentication.VerifySubmission(wallet, gistURL, signature); err != nil {
		wLog.WithError(err).WithField("wallet", wallet).Info("rejected bad signature")
		writeJSON(w, http.StatusUnauthorized, SubmissionReply{Error: "invalid signature"})
		return
	}

	hotkey := r.Header.Get("hotkey")
	coldkey := r.Header.Get("coldkey")

	sub, err := s.Pool.NewSubmission(r.Context(), wallet, hotkey, coldkey, gistURL)
	switch err := err.(type) {
	case nil:
		writeJSON(w, http.StatusOK, SubmissionReply{
			SubmissionID:    sub.ID,
			Status:          string(sub.Status),
			RejectionReason: sub.RejectionReason,
		})
	case *registry.CooldownError:
		writeJSON(w, http.StatusConflict, SubmissionReply{
			RejectionReason:   "cooldown_active",
			CooldownRemaining: humanize.Time(err.Until),
			RetryAt:           err.Until.UTC().Format(time.RFC3339),
		})
	default:
		switch err {
		case registry.ErrSubmissionActive:
			writeJSON(w, http.StatusConflict, SubmissionReply{RejectionReason: "submission_active"})
		case registry.ErrMinerDisqualified:
			writeJSON(w, http.StatusForbidden, SubmissionReply{RejectionReason: "disqualified"})
		default:
			wLog.WithError(err).Error("intake failed")
			writeJSON(w, http.StatusBadGateway, SubmissionReply{Error: "submission could not be processed"})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
