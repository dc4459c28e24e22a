package ocrworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
)

// metadataEnv is set by the ECS agent inside every task container.
const metadataEnv = "ECS_CONTAINER_METADATA_URI_V4"

// ECSAPI is the slice of the ECS client used for task protection.
type ECSAPI interface {
	UpdateTaskProtection(ctx context.Context, params *ecs.UpdateTaskProtectionInput, optFns ...func(*ecs.Options)) (*ecs.UpdateTaskProtectionOutput, error)
}

// taskProtection toggles ECS scale-in protection around message
// processing so autoscaling never kills a task mid-document. Any failure
// disables the feature for the rest of the process; protection is an
// optimization, not a correctness requirement.
type taskProtection struct {
	api     ECSAPI
	cluster string
	taskARN string
	minutes int32
	enabled bool
	logger  *slog.Logger
}

// newTaskProtection discovers the task identity from the container
// metadata endpoint. Outside ECS (or on any discovery failure) it returns
// a disabled instance.
func newTaskProtection(ctx context.Context, api ECSAPI, minutes int, logger *slog.Logger) *taskProtection {
	p := &taskProtection{api: api, minutes: int32(minutes), logger: logger}
	if api == nil {
		return p
	}

	uri := os.Getenv(metadataEnv)
	if uri == "" {
		logger.Info("not running in ecs, task protection disabled")
		return p
	}

	cluster, taskARN, err := discoverTask(ctx, uri)
	if err != nil {
		logger.Warn("failed to discover ecs task, protection disabled", "error", err)
		return p
	}
	p.cluster, p.taskARN, p.enabled = cluster, taskARN, true
	logger.Info("ecs task protection available", "cluster", cluster, "task", taskARN)
	return p
}

func discoverTask(ctx context.Context, metadataURI string) (cluster, taskARN string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURI+"/task", nil)
	if err != nil {
		return "", "", err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("task metadata returned %s", resp.Status)
	}

	var meta struct {
		Cluster string `json:"Cluster"`
		TaskARN string `json:"TaskARN"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", "", err
	}
	if meta.Cluster == "" || meta.TaskARN == "" {
		return "", "", fmt.Errorf("task metadata missing cluster or task arn")
	}
	return meta.Cluster, meta.TaskARN, nil
}

// acquire turns protection on before processing a batch of messages.
func (p *taskProtection) acquire(ctx context.Context) {
	p.update(ctx, true)
}

// release turns protection off so scale-in can reclaim an idle task.
func (p *taskProtection) release(ctx context.Context) {
	p.update(ctx, false)
}

func (p *taskProtection) update(ctx context.Context, on bool) {
	if !p.enabled {
		return
	}
	input := &ecs.UpdateTaskProtectionInput{
		Cluster:           aws.String(p.cluster),
		Tasks:             []string{p.taskARN},
		ProtectionEnabled: on,
	}
	if on {
		input.ExpiresInMinutes = aws.Int32(p.minutes)
	}
	if _, err := p.api.UpdateTaskProtection(ctx, input); err != nil {
		p.logger.Warn("ecs task protection update failed, disabling", "error", err)
		p.enabled = false
	}
}
