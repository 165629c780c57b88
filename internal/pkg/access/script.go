package access

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
)

var (
	ErrArtifactMissing = errors.New("client artifact was not produced")
	ErrInvalidClient   = errors.New("invalid client name")
)

var clientPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,80}$`)

// ScriptController drives the host's easy-rsa and firewall scripts.
type ScriptController struct {
	cfg     config.AccessConfig
	runner  Runner
	leases  LeaseTable
	retry   retryPolicy
	metrics metrics.Recorder
	log     zerolog.Logger
}

func NewScriptController(cfg config.AccessConfig, runner Runner, leases LeaseTable, rec metrics.Recorder, log zerolog.Logger) *ScriptController {
	if runner == nil {
		runner = ExecRunner{}
	}
	if leases == nil {
		leases = NewFileLeaseTable(cfg.LeaseFile)
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if cfg.ArtifactExt == "" {
		cfg.ArtifactExt = ".ovpn"
	}
	return &ScriptController{
		cfg:     cfg,
		runner:  runner,
		leases:  leases,
		retry:   retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: time.Second},
		metrics: rec,
		log:     log.With().Str("component", "access").Logger(),
	}
}

// ClientName maps an external key to the VPN client name.
func (c *ScriptController) ClientName(key string) string {
	return c.cfg.ClientPrefix + key
}

// ArtifactPath is where the provisioning script leaves the client profile.
func (c *ScriptController) ArtifactPath(client string) string {
	return filepath.Join(c.cfg.ArtifactDir, client+c.cfg.ArtifactExt)
}

// Provision generates a client profile for key and returns its path. It is
// not retried here: a half-finished certificate request needs a human.
func (c *ScriptController) Provision(ctx context.Context, key string) (string, error) {
	client := c.ClientName(key)
	if !clientPattern.MatchString(client) {
		return "", fmt.Errorf("%w: %q", ErrInvalidClient, client)
	}

	start := time.Now()
	err := runCommand(ctx, c.runner, "provision", c.cfg.ProvisionDir, c.cfg.ProvisionTimeout, c.cfg.ProvisionScript, client)
	if err == nil {
		artifact := c.ArtifactPath(client)
		if _, statErr := os.Stat(artifact); statErr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrArtifactMissing, artifact, statErr)
		} else {
			c.observe("provision", nil, start)
			c.log.Info().Str("client", client).Str("artifact", artifact).Msg("client provisioned")
			return artifact, nil
		}
	}

	c.observe("provision", err, start)
	c.log.Error().Err(err).Str("client", client).Msg("provision failed")
	return "", err
}

// Block cuts off the client that owns artifactRef. The client name is the
// artifact's base name without extension.
func (c *ScriptController) Block(ctx context.Context, artifactRef string) error {
	client := strings.TrimSuffix(filepath.Base(artifactRef), c.cfg.ArtifactExt)
	return c.firewall(ctx, "block", c.cfg.BlockScript, client)
}

// Unblock restores access for key.
func (c *ScriptController) Unblock(ctx context.Context, key string) error {
	return c.firewall(ctx, "unblock", c.cfg.UnblockScript, c.ClientName(key))
}

func (c *ScriptController) firewall(ctx context.Context, op, script, client string) error {
	if !clientPattern.MatchString(client) {
		return fmt.Errorf("%w: %q", ErrInvalidClient, client)
	}

	ip, found, err := c.leases.Lookup(client)
	if err != nil {
		return fmt.Errorf("%s %s: lease lookup: %w", op, client, err)
	}
	if !found {
		// 没有在线地址，视为已处于目标状态
		c.metrics.RecordAccessCommand(op, metrics.ResultSkipped, 0)
		c.log.Debug().Str("client", client).Str("op", op).Msg("no lease, nothing to do")
		return nil
	}

	start := time.Now()
	err = c.retry.do(ctx, func() error {
		return runCommand(ctx, c.runner, op, c.cfg.ScriptDir, c.cfg.CommandTimeout, script, ip)
	})
	c.observe(op, err, start)
	if err != nil {
		return err
	}

	c.log.Info().Str("client", client).Str("ip", ip).Str("op", op).Msg("firewall updated")
	return nil
}

func (c *ScriptController) observe(op string, err error, start time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	c.metrics.RecordAccessCommand(op, result, time.Since(start))
}
