package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"certhub/internal/acmeclient"
	"certhub/internal/model"
)

// Target installs an issued certificate somewhere and reports whether the
// destination is currently stopped. Deploy returns the log lines of the steps
// it performed; a deploy error never invalidates the issued certificate.
type Target interface {
	ID() string
	IsStopped(ctx context.Context) bool
	Deploy(ctx context.Context, cert *model.ManagedCertificate, export *acmeclient.ExportedCertificate) ([]string, error)
}

// Manager resolves deployment targets by id. It also implements the
// scheduler's stopped-target check.
type Manager struct {
	targets map[string]Target
}

// NewManager creates a manager over a fixed target set
func NewManager(targets ...Target) *Manager {
	m := &Manager{targets: make(map[string]Target)}
	for _, t := range targets {
		m.targets[t.ID()] = t
	}
	return m
}

// Get returns the target with the given id
func (m *Manager) Get(id string) (Target, bool) {
	t, ok := m.targets[id]
	return t, ok
}

// IsStopped reports whether the certificate's deployment target is stopped.
// Certificates without a target, or with an unknown target, count as running.
func (m *Manager) IsStopped(ctx context.Context, cert *model.ManagedCertificate) bool {
	cfg, err := cert.GetRequestConfig()
	if err != nil || cfg.DeploymentTargetID == "" {
		return false
	}
	target, ok := m.targets[cfg.DeploymentTargetID]
	if !ok {
		return false
	}
	return target.IsStopped(ctx)
}

// ScriptTarget shells out for both the deploy action and the stopped check.
// The status script's exit code decides stopped-ness: non-zero means stopped.
type ScriptTarget struct {
	TargetID     string
	DeployScript string
	StatusScript string
	Timeout      time.Duration
}

// ID implements Target
func (t *ScriptTarget) ID() string {
	return t.TargetID
}

// IsStopped implements Target
func (t *ScriptTarget) IsStopped(ctx context.Context) bool {
	if t.StatusScript == "" {
		return false
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", t.StatusScript)
	return cmd.Run() != nil
}

// Deploy implements Target
func (t *ScriptTarget) Deploy(ctx context.Context, cert *model.ManagedCertificate, export *acmeclient.ExportedCertificate) ([]string, error) {
	if t.DeployScript == "" {
		return nil, fmt.Errorf("deployment target %s has no deploy script", t.TargetID)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", t.DeployScript)
	cmd.Env = append(cmd.Environ(),
		"CERT_ID="+cert.ID,
		"CERT_PATH="+export.Path,
		"CERT_KEY_PATH="+export.KeyPath,
	)

	output, err := cmd.CombinedOutput()
	log := []string{fmt.Sprintf("deploy target %s: executed deploy script", t.TargetID)}
	if trimmed := strings.TrimSpace(string(output)); trimmed != "" {
		log = append(log, trimmed)
	}

	if err != nil {
		return log, fmt.Errorf("deploy script failed for target %s: %w", t.TargetID, err)
	}
	return log, nil
}

func (t *ScriptTarget) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
