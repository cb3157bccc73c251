package web_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/verity-subnet/verity-pool/web"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/verity-subnet/verity-pool/authentication"
	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/engine"
	"github.com/verity-subnet/verity-pool/registry"
	"github.com/verity-subnet/verity-pool/scoring"
)

type fakePool struct {
	sub    *registry.Submission
	err    error
	status engine.PoolStatus
}

func (f *fakePool) NewSubmission(context.Context, string, string, string, string) (*registry.Submission, error) {
	return f.sub, f.err
}

func (f *fakePool) Status() engine.PoolStatus {
	return f.status
}

func testServices(pool Pool) *HttpServices {
	conf := viper.New()
	config.SetDefaults(conf)
	s := NewHttpServices(conf, nil)
	s.SetPool(pool)
	return s
}

func signedHeaders(t *testing.T, gistURL string) (wallet string, headers map[string]string) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	wallet = authentication.AddressFromPublicKey(pub)
	return wallet, map[string]string{
		"wallet":    wallet,
		"gist_url":  gistURL,
		"signature": authentication.SignSubmission(priv, wallet, gistURL),
	}
}

func submit(s *HttpServices, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/miners/submission", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.MinerSubmission(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) SubmissionReply {
	var reply SubmissionReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	return reply
}

func TestMinerSubmission_Accepted(t *testing.T) {
	require := require.New(t)

	gistURL := "https://gist.github.com/miner/abc123"
	wallet, headers := signedHeaders(t, gistURL)

	pool := &fakePool{sub: &registry.Submission{
		ID: "sub-1", Wallet: wallet, GistURL: gistURL, Status: registry.StatusPending,
	}}
	w := submit(testServices(pool), headers)

	require.Equal(http.StatusOK, w.Code)
	reply := decode(t, w)
	require.Equal("sub-1", reply.SubmissionID)
	require.Equal("pending", reply.Status)
	require.Empty(reply.RejectionReason)
}

func TestMinerSubmission_StakeIneligible(t *testing.T) {
	require := require.New(t)

	gistURL := "https://gist.github.com/miner/abc123"
	_, headers := signedHeaders(t, gistURL)

	pool := &fakePool{sub: &registry.Submission{
		ID: "sub-1", Status: registry.StatusRejected,
		RejectionReason: registry.ReasonStakeIneligible,
	}}
	w := submit(testServices(pool), headers)

	// Recorded and answered 200, but immediately rejected
	require.Equal(http.StatusOK, w.Code)
	reply := decode(t, w)
	require.Equal(registry.ReasonStakeIneligible, reply.RejectionReason)
}

func TestMinerSubmission_BadSignature(t *testing.T) {
	require := require.New(t)

	_, headers := signedHeaders(t, "https://gist.github.com/miner/abc123")
	// Signature no longer covers this url
	headers["gist_url"] = "https://gist.github.com/attacker/evil"

	pool := &fakePool{sub: &registry.Submission{ID: "sub-1"}}
	w := submit(testServices(pool), headers)
	require.Equal(http.StatusUnauthorized, w.Code)

	// Garbage wallet
	headers["wallet"] = "not-a-wallet"
	w = submit(testServices(pool), headers)
	require.Equal(http.StatusUnauthorized, w.Code)
}

func TestMinerSubmission_MissingHeaders(t *testing.T) {
	require := require.New(t)

	w := submit(testServices(&fakePool{}), map[string]string{"wallet": "w"})
	require.Equal(http.StatusBadRequest, w.Code)

	req := httptest.NewRequest("GET", "/api/v1/miners/submission", nil)
	rec := httptest.NewRecorder()
	testServices(&fakePool{}).MinerSubmission(rec, req)
	require.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func TestMinerSubmission_Refusals(t *testing.T) {
	require := require.New(t)

	gistURL := "https://gist.github.com/miner/abc123"
	_, headers := signedHeaders(t, gistURL)

	until := time.Now().UTC().Add(3 * time.Hour)
	w := submit(testServices(&fakePool{err: &registry.CooldownError{
		Until: until, Remaining: 3 * time.Hour,
	}}), headers)
	require.Equal(http.StatusConflict, w.Code)
	reply := decode(t, w)
	require.Equal("cooldown_active", reply.RejectionReason)
	require.NotEmpty(reply.CooldownRemaining)
	require.NotEmpty(reply.RetryAt)

	w = submit(testServices(&fakePool{err: registry.ErrSubmissionActive}), headers)
	require.Equal(http.StatusConflict, w.Code)
	require.Equal("submission_active", decode(t, w).RejectionReason)

	w = submit(testServices(&fakePool{err: registry.ErrMinerDisqualified}), headers)
	require.Equal(http.StatusForbidden, w.Code)

	w = submit(testServices(&fakePool{err: fmt.Errorf("chaind down")}), headers)
	require.Equal(http.StatusBadGateway, w.Code)
}

func rpcCall(t *testing.T, url, method string, params interface{}) json.RawMessage {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  interface{}     `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Nil(t, envelope.Error)
	return envelope.Result
}

func TestAPI_Leaderboard(t *testing.T) {
	require := require.New(t)

	s := testServices(&fakePool{status: engine.PoolStatus{Statements: 20}})
	board := scoring.NewBoard(func() ([]scoring.ScoreTuple, error) {
		return []scoring.ScoreTuple{
			{Wallet: "miner-a", TotalCorrect: 18, TotalSeconds: 210},
			{Wallet: "miner-b", TotalCorrect: 17, TotalSeconds: 100},
		}, nil
	})
	require.NoError(board.Refresh())
	s.SetBoard(board)

	srv := httptest.NewServer(s.APIMux("/api/v1"))
	defer srv.Close()

	result := rpcCall(t, srv.URL, "api.Leaderboard", struct{}{})
	var reply LeaderboardResponse
	require.NoError(json.Unmarshal(result, &reply))
	require.Len(reply.Data, 2)
	require.Equal("miner-a", reply.Data[0].Wallet)
	require.Equal(1, reply.Data[0].Rank)
	require.Equal(2, reply.Data[1].Rank)

	result = rpcCall(t, srv.URL, "api.PoolStatus", struct{}{})
	var status engine.PoolStatus
	require.NoError(json.Unmarshal(result, &status))
	require.Equal(20, status.Statements)
}
