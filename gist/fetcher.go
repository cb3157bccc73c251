package gist

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/config"
)

var gLog = log.WithField("mod", "gist")

var (
	// ErrNotFound means the gist does not exist or is not public.
	ErrNotFound = errors.New("gist not found")

	// ErrTimeout means GitHub did not answer inside the fetch window.
	ErrTimeout = errors.New("gist fetch timed out")

	// ErrIncompleteBundle means the gist is missing one of the files an
	// agent needs to build and run.
	ErrIncompleteBundle = errors.New("gist is missing required files")
)

// RequiredFiles is what every agent bundle must carry: the image
// recipe, its dependency pins and the server entry point.
var RequiredFiles = []string{"Dockerfile", "requirements.txt", "agent.py"}

// Bundle is the fetched agent code, keyed by file name.
type Bundle struct {
	ID    string
	Files map[string]string
}

// Hash is a stable digest of the bundle contents: sha256 over the
// sorted (name, content) pairs. Two gists with the same files hash the
// same regardless of fetch order.
func (b *Bundle) Hash() string {
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s\x00%s\x00", name, b.Files[name])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Missing lists required files absent from the bundle.
func (b *Bundle) Missing() []string {
	var missing []string
	for _, name := range RequiredFiles {
		if _, ok := b.Files[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Fetcher pulls agent bundles from the GitHub gist API.
type Fetcher struct {
	api     string
	token   string
	timeout time.Duration
	http    *http.Client
}

func NewFetcher(conf *viper.Viper) *Fetcher {
	f := new(Fetcher)
	f.api = strings.TrimRight(conf.GetString(config.ConfigGistAPILocation), "/")
	f.token = conf.GetString(config.ConfigGistGithubToken)
	f.timeout = conf.GetDuration(config.ConfigGistTimeout)
	f.http = &http.Client{Timeout: f.timeout}
	return f
}

// ParseGistID extracts the gist id from a gist.github.com url. The id
// is the last path element.
func ParseGistID(gistURL string) (string, error) {
	u, err := url.Parse(gistURL)
	if err != nil {
		return "", fmt.Errorf("bad gist url: %v", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := parts[len(parts)-1]
	if id == "" {
		return "", fmt.Errorf("bad gist url: no id in %q", gistURL)
	}
	return id, nil
}

type gistFile struct {
	Filename  string `json:"filename"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	RawURL    string `json:"raw_url"`
}

type gistResponse struct {
	ID    string              `json:"id"`
	Files map[string]gistFile `json:"files"`
}

// Fetch downloads the gist behind gistURL and verifies the bundle is
// complete. Returns ErrNotFound, ErrTimeout or ErrIncompleteBundle as
// the terminal classifications the pipeline needs.
func (f *Fetcher) Fetch(ctx context.Context, gistURL string) (*Bundle, error) {
	id, err := ParseGistID(gistURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var gr gistResponse
	operation := func() error {
		resp, err := f.get(ctx, fmt.Sprintf("%s/gists/%s", f.api, id))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("github returned %d", resp.StatusCode)
		}

		if body, err := ioutil.ReadAll(resp.Body); err != nil {
			return err
		} else if err = json.Unmarshal(body, &gr); err != nil {
			return err
		}
		return nil
	}

	err = backoff.Retry(operation, backoff.WithContext(fetchBackOff(), ctx))
	switch {
	case err == ErrNotFound:
		return nil, ErrNotFound
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		return nil, ErrTimeout
	case err != nil:
		return nil, err
	}

	bundle := &Bundle{ID: gr.ID, Files: make(map[string]string)}
	for _, file := range gr.Files {
		content := file.Content
		if file.Truncated {
			// The gist API truncates big files inline, the raw url
			// always carries the whole thing.
			content, err = f.raw(ctx, file.RawURL)
			if err != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return nil, ErrTimeout
				}
				return nil, err
			}
		}
		bundle.Files[file.Filename] = content
	}

	if missing := bundle.Missing(); len(missing) > 0 {
		gLog.WithFields(log.Fields{"gist": id, "missing": missing}).Info("incomplete bundle")
		return nil, ErrIncompleteBundle
	}

	return bundle, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if f.token != "" {
		req.Header.Set("Authorization", "token "+f.token)
	}
	return f.http.Do(req)
}

func (f *Fetcher) raw(ctx context.Context, url string) (string, error) {
	resp, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github returned %d for raw file", resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func fetchBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      15 * time.Second,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
