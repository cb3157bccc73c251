package gist_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/verity-subnet/verity-pool/gist"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/verity-subnet/verity-pool/config"
)

func gistJSON(id string, files map[string]string) []byte {
	type file struct {
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}
	payload := map[string]interface{}{"id": id, "files": map[string]file{}}
	fm := payload["files"].(map[string]file)
	for name, content := range files {
		fm[name] = file{Filename: name, Content: content}
	}
	b, _ := json.Marshal(payload)
	return b
}

func completeFiles() map[string]string {
	return map[string]string{
		"Dockerfile":       "FROM python:3.11-slim\n",
		"requirements.txt": "fastapi==0.110.0\n",
		"agent.py":         "app = FastAPI()\n",
	}
}

func testFetcher(apiURL string) *Fetcher {
	conf := viper.New()
	config.SetDefaults(conf)
	conf.Set(config.ConfigGistAPILocation, apiURL)
	conf.Set(config.ConfigGistTimeout, 2*time.Second)
	return NewFetcher(conf)
}

func TestParseGistID(t *testing.T) {
	require := require.New(t)

	id, err := ParseGistID("https://gist.github.com/miner/abc123def")
	require.NoError(err)
	require.Equal("abc123def", id)

	id, err = ParseGistID("https://gist.github.com/abc123def/")
	require.NoError(err)
	require.Equal("abc123def", id)

	_, err = ParseGistID("https://gist.github.com")
	require.Error(err)
}

func TestFetcher_Fetch(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gists/complete":
			w.Write(gistJSON("complete", completeFiles()))
		case "/gists/partial":
			w.Write(gistJSON("partial", map[string]string{"agent.py": "pass\n"}))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	ctx := context.Background()

	bundle, err := f.Fetch(ctx, "https://gist.github.com/miner/complete")
	require.NoError(err)
	require.Len(bundle.Files, 3)
	require.Empty(bundle.Missing())

	_, err = f.Fetch(ctx, "https://gist.github.com/miner/partial")
	require.Equal(ErrIncompleteBundle, err)

	_, err = f.Fetch(ctx, "https://gist.github.com/miner/gone")
	require.Equal(ErrNotFound, err)
}

func TestFetcher_Timeout(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(gistJSON("slow", completeFiles()))
	}))
	defer srv.Close()

	conf := viper.New()
	config.SetDefaults(conf)
	conf.Set(config.ConfigGistAPILocation, srv.URL)
	conf.Set(config.ConfigGistTimeout, 50*time.Millisecond)
	f := NewFetcher(conf)

	_, err := f.Fetch(context.Background(), "https://gist.github.com/miner/slow")
	require.Equal(ErrTimeout, err)
}

func TestBundle_Hash(t *testing.T) {
	require := require.New(t)

	a := &Bundle{Files: completeFiles()}
	b := &Bundle{Files: completeFiles()}
	require.Equal(a.Hash(), b.Hash())

	b.Files["agent.py"] = "changed\n"
	require.NotEqual(a.Hash(), b.Hash())
}
