package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"eventscout/pkg/config"
	"eventscout/pkg/errors"
	"eventscout/pkg/logger"
)

// bridgeRunner shells out to the platform's Node client, which streams run
// results faster than polling the REST API. Availability is probed once at
// construction time.
type bridgeRunner struct {
	command    string
	runnerPath string
	slop       time.Duration
	available  bool
	logger     logger.Logger
}

// bridgeError carries the fallback decision for a failed bridge invocation.
// Environment problems (missing node, missing modules) fall back to REST,
// genuine run failures do not.
type bridgeError struct {
	msg            string
	shouldFallback bool
	err            error
}

func (e *bridgeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *bridgeError) Unwrap() error { return e.err }

func asBridgeError(err error, target **bridgeError) bool {
	be, ok := err.(*bridgeError)
	if !ok {
		return false
	}
	*target = be
	return true
}

func newBridgeRunner(cfg *config.RemoteConfig, log logger.Logger) *bridgeRunner {
	command := cfg.BridgeCommand
	if command == "" {
		command = "node"
	}
	slop := cfg.BridgeTimeoutSlop
	if slop <= 0 {
		slop = 30 * time.Second
	}

	b := &bridgeRunner{
		command:    command,
		runnerPath: cfg.BridgeRunnerPath,
		slop:       slop,
		logger:     log,
	}
	b.available = b.probe(cfg.Bridge == "on")
	return b
}

// probe checks for the runner script and the interpreter. When the bridge
// is forced on, a missing environment is reported loudly but still marks
// the bridge unavailable so calls go straight to REST.
func (b *bridgeRunner) probe(forced bool) bool {
	if b.runnerPath == "" {
		return false
	}
	if _, err := os.Stat(b.runnerPath); err != nil {
		if forced {
			b.logger.WarnWithFields("bridge runner script not found", map[string]interface{}{
				"path": b.runnerPath,
			})
		}
		return false
	}
	if _, err := exec.LookPath(b.command); err != nil {
		if forced {
			b.logger.WarnWithFields("bridge interpreter not found", map[string]interface{}{
				"command": b.command,
			})
		}
		return false
	}
	return true
}

// fallbackSignatures mark bridge failures caused by the environment rather
// than the run itself
var fallbackSignatures = []string{
	"cannot find module",
	"ERR_MODULE_NOT_FOUND",
	"command not found",
	"no such file or directory",
}

func isFallbackOutput(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range fallbackSignatures {
		if strings.Contains(lower, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

type bridgeRequest struct {
	Token   string   `json:"token"`
	ActorID string   `json:"actorId"`
	BaseURL string   `json:"baseUrl,omitempty"`
	Input   JobInput `json:"input"`
	Limit   int      `json:"limit"`
}

// run invokes the Node runner with the job description on stdin and reads
// the collected items as a JSON array from stdout
func (b *bridgeRunner) run(ctx context.Context, input JobInput, token, actorID, baseURL string, limit int, jobTimeout time.Duration) ([]Item, error) {
	payload, err := json.Marshal(bridgeRequest{
		Token:   token,
		ActorID: actorID,
		BaseURL: baseURL,
		Input:   input,
		Limit:   limit,
	})
	if err != nil {
		return nil, &bridgeError{msg: "failed to encode bridge request", err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, jobTimeout+b.slop)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.command, b.runnerPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	b.logger.DebugWithFields("bridge run finished", map[string]interface{}{
		"duration": time.Since(start),
		"error":    err != nil,
	})

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, errors.New(errors.KindRemoteTimeout, "bridge run did not finish before timeout")
	}
	if err != nil {
		combined := stderr.String() + stdout.String()
		if isFallbackOutput(combined) || isFallbackOutput(err.Error()) {
			return nil, &bridgeError{msg: "bridge environment unusable", shouldFallback: true, err: err}
		}
		preview := strings.TrimSpace(stderr.String())
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, &bridgeError{msg: fmt.Sprintf("bridge run failed: %s", preview), err: err}
	}

	var items []Item
	if err := json.Unmarshal(stdout.Bytes(), &items); err != nil {
		return nil, &bridgeError{msg: "bridge output was not valid JSON", shouldFallback: true, err: err}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
