package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var sLog = log.WithField("mod", "sandbox")

// Sandbox is one isolated agent runtime. Build bakes the image from a
// staged bundle directory, Start boots the container, Call speaks HTTP
// to the agent inside, Stop tears everything down.
type Sandbox interface {
	Build(ctx context.Context, dir string) error
	Start(ctx context.Context) error
	Call(ctx context.Context, path string, in, out interface{}) error
	Stop() error
}

// Limits are the resource caps every agent container runs under. The
// same caps apply to all miners so evaluation times are comparable.
type Limits struct {
	CPUs       string
	Memory     string
	MemorySwap string
}

// Docker runs an agent in a docker container via the docker CLI.
type Docker struct {
	id        string
	image     string
	container string
	hostPort  int
	agentPort int
	limits    Limits

	http    *http.Client
	release func()

	started bool
	built   bool
}

func NewDocker(id string, hostPort, agentPort int, limits Limits) *Docker {
	d := new(Docker)
	d.id = id
	d.image = fmt.Sprintf("verity-agent:%s", id)
	d.container = fmt.Sprintf("verity-agent-%s", id)
	d.hostPort = hostPort
	d.agentPort = agentPort
	d.limits = limits
	d.http = &http.Client{Timeout: 10 * time.Minute}
	return d
}

func (d *Docker) buildArgs(dir string) []string {
	return []string{"build", "--network", "none", "-t", d.image, dir}
}

func (d *Docker) runArgs() []string {
	return []string{
		"run", "-d", "--rm",
		"--name", d.container,
		"--cpus", d.limits.CPUs,
		"--memory", d.limits.Memory,
		"--memory-swap", d.limits.MemorySwap,
		"-p", fmt.Sprintf("127.0.0.1:%d:%d", d.hostPort, d.agentPort),
		d.image,
	}
}

// Build creates the agent image from the staged bundle directory. The
// build runs without network so an agent cannot pull anything its
// Dockerfile does not vendor through the base image.
func (d *Docker) Build(ctx context.Context, dir string) error {
	if out, err := d.docker(ctx, d.buildArgs(dir)...); err != nil {
		return fmt.Errorf("docker build: %v: %s", err, tail(out))
	}
	d.built = true
	return nil
}

func (d *Docker) Start(ctx context.Context) error {
	if !d.built {
		return fmt.Errorf("sandbox %s has no image", d.id)
	}
	if out, err := d.docker(ctx, d.runArgs()...); err != nil {
		return fmt.Errorf("docker run: %v: %s", err, tail(out))
	}
	d.started = true
	sLog.WithFields(log.Fields{"sandbox": d.id, "port": d.hostPort}).Debug("container started")
	return nil
}

// Call sends a request to the agent. A nil in means GET, otherwise in
// is posted as JSON. A non-nil out has the response decoded into it.
func (d *Docker) Call(ctx context.Context, path string, in, out interface{}) error {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", d.hostPort, path)

	var req *http.Request
	var err error
	if in == nil {
		req, err = http.NewRequest("GET", url, nil)
	} else {
		var body []byte
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
		req, err = http.NewRequest("POST", url, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent returned %d on %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// Stop kills the container, removes the image and returns the host
// port to the pool. Safe to call more than once.
func (d *Docker) Stop() error {
	var first error
	if d.started {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := d.docker(ctx, "stop", d.container); err != nil {
			first = err
		}
		cancel()
		d.started = false
	}
	if d.built {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := d.docker(ctx, "rmi", "-f", d.image); err != nil && first == nil {
			first = err
		}
		cancel()
		d.built = false
	}
	if d.release != nil {
		d.release()
		d.release = nil
	}
	return first
}

func (d *Docker) docker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		return "..." + s[len(s)-max:]
	}
	return s
}
