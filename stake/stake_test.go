package stake_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/verity-subnet/verity-pool/stake"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/verity-subnet/verity-pool/config"
)

type fakeSource struct {
	status map[string]Status
	err    error
	calls  int
}

func (f *fakeSource) Stake(_ context.Context, wallet string) (Status, error) {
	f.calls++
	if f.err != nil {
		return Status{}, f.err
	}
	return f.status[wallet], nil
}

func testConf() *viper.Viper {
	conf := viper.New()
	config.SetDefaults(conf)
	return conf
}

func TestVerifier_Check(t *testing.T) {
	require := require.New(t)
	now := time.Now().UTC()

	src := &fakeSource{status: map[string]Status{
		"rich":  {Wallet: "rich", Balance: decimal.New(750, 0), HeldSince: now.Add(-30 * 24 * time.Hour)},
		"poor":  {Wallet: "poor", Balance: decimal.New(499, 0), HeldSince: now.Add(-30 * 24 * time.Hour)},
		"exact": {Wallet: "exact", Balance: decimal.New(500, 0), HeldSince: now.Add(-8 * 24 * time.Hour)},
		"fresh": {Wallet: "fresh", Balance: decimal.New(750, 0), HeldSince: now.Add(-24 * time.Hour)},
	}}

	v, err := NewVerifier(testConf(), src)
	require.NoError(err)

	ctx := context.Background()

	res, err := v.Check(ctx, "rich")
	require.NoError(err)
	require.True(res.Eligible)

	res, err = v.Check(ctx, "poor")
	require.NoError(err)
	require.False(res.Eligible)

	// The floor is inclusive
	res, err = v.Check(ctx, "exact")
	require.NoError(err)
	require.True(res.Eligible)

	// Enough balance, not held long enough
	res, err = v.Check(ctx, "fresh")
	require.NoError(err)
	require.False(res.Eligible)
}

func TestVerifier_Cache(t *testing.T) {
	require := require.New(t)
	now := time.Now().UTC()

	src := &fakeSource{status: map[string]Status{
		"rich": {Wallet: "rich", Balance: decimal.New(750, 0), HeldSince: now.Add(-30 * 24 * time.Hour)},
	}}

	v, err := NewVerifier(testConf(), src)
	require.NoError(err)

	ctx := context.Background()
	_, err = v.Check(ctx, "rich")
	require.NoError(err)
	_, err = v.Check(ctx, "rich")
	require.NoError(err)
	require.Equal(1, src.calls, "second check inside the window must be served from cache")

	v.Forget("rich")
	_, err = v.Check(ctx, "rich")
	require.NoError(err)
	require.Equal(2, src.calls)
}

func TestVerifier_SourceError(t *testing.T) {
	require := require.New(t)
	src := &fakeSource{err: fmt.Errorf("chaind down")}

	v, err := NewVerifier(testConf(), src)
	require.NoError(err)

	_, err = v.Check(context.Background(), "rich")
	require.Error(err)
}

func TestClient_Stake(t *testing.T) {
	require := require.New(t)
	heldSince := time.Now().Add(-10 * 24 * time.Hour).Unix()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stake/wallet-a":
			fmt.Fprintf(w, `{"wallet":"wallet-a","stake":"612.5","held_since":%d}`, heldSince)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	conf := testConf()
	conf.Set(config.ConfigChainLocation, srv.URL)
	c := NewClient(conf)

	status, err := c.Stake(context.Background(), "wallet-a")
	require.NoError(err)
	require.True(status.Balance.Equal(decimal.NewFromFloat(612.5)))
	require.Equal(time.Unix(heldSince, 0).UTC(), status.HeldSince)

	// Unknown wallets read as zero stake
	status, err = c.Stake(context.Background(), "wallet-b")
	require.NoError(err)
	require.True(status.Balance.IsZero())
	require.True(status.HeldSince.IsZero())
}

func TestMonitor_Sweep(t *testing.T) {
	require := require.New(t)
	now := time.Now().UTC()

	src := &fakeSource{status: map[string]Status{
		"keeper":  {Wallet: "keeper", Balance: decimal.New(800, 0), HeldSince: now.Add(-30 * 24 * time.Hour)},
		"dropper": {Wallet: "dropper", Balance: decimal.New(100, 0), HeldSince: now.Add(-30 * 24 * time.Hour)},
	}}

	conf := testConf()
	v, err := NewVerifier(conf, src)
	require.NoError(err)

	var disqualified []string
	var refreshed bool
	m := NewMonitor(conf, v,
		func() ([]string, error) { return []string{"keeper", "dropper"}, nil },
		func(wallet string) error {
			disqualified = append(disqualified, wallet)
			return nil
		})
	m.OnChange(func() { refreshed = true })

	m.Sweep(context.Background())

	require.Equal([]string{"dropper"}, disqualified)
	require.True(refreshed)
	require.Equal(int64(1), m.Status().Sweeps)
	require.Equal(int64(1), m.Status().Disqualified)
}
