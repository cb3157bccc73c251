package web

import (
	"encoding/json"
	"net/http"
	"time"

	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/jinzhu/gorm"
	log "github.com/sirupsen/logrus"

	"github.com/verity-subnet/verity-pool/database"
	"github.com/verity-subnet/verity-pool/engine"
	"github.com/verity-subnet/verity-pool/evaluator"
	"github.com/verity-subnet/verity-pool/registry"
	"github.com/verity-subnet/verity-pool/scoring"
)

const (
	MaxLimit int32 = 200
)

func (s *HttpServices) APIMux(base string) *rpc.Server {
	apiMux := rpc.NewServer()
	apiMux.RegisterCodec(json2.NewCodec(), "application/json")
	err := apiMux.RegisterService(s, "api")
	if err != nil {
		log.WithError(err).Fatal("failed to create api")
	}

	return apiMux
}

type LeaderboardResponse struct {
	Data      []scoring.Entry `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *HttpServices) Leaderboard(r *http.Request, _ *json.RawMessage, reply *LeaderboardResponse) error {
	reply.Data, reply.UpdatedAt = s.Board.Entries()
	return nil
}

type SubmissionsParams struct {
	Wallet string `json:"wallet"`
	database.PaginationParams
}

type SubmissionsResponse struct {
	Data       []registry.Submission       `json:"data"`
	Pagination database.PaginationResponse `json:"info"`
}

// DB related apis
func (s *HttpServices) Submissions(r *http.Request, args *SubmissionsParams, reply *SubmissionsResponse) error {
	args.Default(50, "desc", "submitted_at").Max(MaxLimit)
	db, err := database.SimplePagination(s.db, args.PaginationParams)
	if err != nil {
		return err
	}

	// Filter
	if args.Wallet != "" {
		db = db.Where("wallet = ?", args.Wallet)
	}

	err = db.Find(&reply.Data).Error
	if err == gorm.ErrRecordNotFound {
		return nil // No records
	}
	if err != nil {
		return err
	}

	total := database.TotalCount(db.Model(&registry.Submission{}))
	reply.Pagination.TotalRecords = total
	reply.Pagination.Records = len(reply.Data)
	return nil
}

type ResultsParams struct {
	SubmissionID string `json:"submission_id"`
	database.PaginationParams
}

type ResultsResponse struct {
	Data       []evaluator.StatementResult `json:"data"`
	Pagination database.PaginationResponse `json:"info"`
}

func (s *HttpServices) Results(r *http.Request, args *ResultsParams, reply *ResultsResponse) error {
	args.Default(50, "asc", "id").Max(MaxLimit)
	db, err := database.SimplePagination(s.db, args.PaginationParams)
	if err != nil {
		return err
	}

	if args.SubmissionID != "" {
		db = db.Where("submission_id = ?", args.SubmissionID)
	}

	err = db.Find(&reply.Data).Error
	if err == gorm.ErrRecordNotFound {
		return nil // No records
	}
	if err != nil {
		return err
	}

	// The ground truth never leaves the harness
	for i := range reply.Data {
		reply.Data[i].ExpectedVerdict = ""
	}

	total := database.TotalCount(db.Model(&evaluator.StatementResult{}))
	reply.Pagination.TotalRecords = total
	reply.Pagination.Records = len(reply.Data)
	return nil
}

func (s *HttpServices) PoolStatus(r *http.Request, _ *json.RawMessage, reply *engine.PoolStatus) error {
	*reply = s.Pool.Status()
	return nil
}
