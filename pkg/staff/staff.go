// Package staff provisions the temporary staff accounts the browser
// sessions log in with. One account exists per zone for the duration of
// that zone's processing and is deleted afterwards.
package staff

import (
	"context"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/slsp/almamerge/pkg/alma"
	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

//go:embed staff.json
var defaultTemplate []byte

// passwordCharset is ASCII letters, digits and punctuation.
const passwordCharset = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Identity is a temporary staff account. Err is set when provisioning
// failed; callers must check Failed before using the identity.
type Identity struct {
	PrimaryID string
	Password  string
	Zone      string
	Env       string
	AlmaURL   string

	Err error
}

// Failed reports whether the account could not be provisioned.
func (i *Identity) Failed() bool {
	return i.Err != nil
}

// Provisioner creates and deletes temporary staff accounts.
type Provisioner struct {
	cfg      *config.Config
	client   alma.Client
	template []byte
	log      *logging.Logger

	// random is the entropy source for passwords
	random io.Reader
}

// NewProvisioner creates a provisioner. The staff template is read from
// cfg.Staff.TemplatePath when set, otherwise the embedded one is used.
func NewProvisioner(cfg *config.Config, client alma.Client, logger *logging.Logger) (*Provisioner, error) {
	template := defaultTemplate
	if cfg.Staff.TemplatePath != "" {
		data, err := os.ReadFile(cfg.Staff.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read staff template: %w", err)
		}
		template = data
	}
	if !gjson.ValidBytes(template) {
		return nil, fmt.Errorf("staff template is not valid JSON")
	}

	return &Provisioner{
		cfg:      cfg,
		client:   client,
		template: template,
		log:      logger,
		random:   rand.Reader,
	}, nil
}

// StaffID returns the primary ID of a zone's temporary account,
// e.g. automation_ubs@slsp.ch.
func (p *Provisioner) StaffID(zone string) string {
	return fmt.Sprintf("%s_%s@%s", p.cfg.Staff.IDPrefix, strings.ToLower(zone), p.cfg.Staff.IDDomain)
}

// AlmaURL returns the UI base URL of a zone in the configured environment.
func (p *Provisioner) AlmaURL(zone string) (string, error) {
	return p.cfg.AlmaURL(zone)
}

// Template returns the staff template with the primary ID and the zone's
// role scope code filled in. Every role gets the zone scope.
func (p *Provisioner) Template(primaryID, zone string) ([]byte, error) {
	code, err := p.cfg.IZCode(zone)
	if err != nil {
		return nil, err
	}

	data, err := sjson.SetBytes(p.template, "primary_id", primaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to set primary_id: %w", err)
	}

	roles := int(gjson.GetBytes(data, "user_role.#").Int())
	if roles == 0 {
		return nil, fmt.Errorf("staff template has no user_role")
	}
	for i := 0; i < roles; i++ {
		data, err = sjson.SetBytes(data, fmt.Sprintf("user_role.%d.scope.value", i), code)
		if err != nil {
			return nil, fmt.Errorf("failed to set role scope: %w", err)
		}
	}
	return data, nil
}

// CreateStaffAccount provisions the temporary account of a zone. It never
// returns an error: failures are reported through Identity.Err.
//
// An account with the same ID left behind by an interrupted run is removed
// first.
func (p *Provisioner) CreateStaffAccount(ctx context.Context, primaryID, zone string) *Identity {
	id := &Identity{
		PrimaryID: primaryID,
		Zone:      zone,
		Env:       p.cfg.Environment,
	}

	url, err := p.AlmaURL(zone)
	if err != nil {
		id.Err = fmt.Errorf("provisioning %s: %w", primaryID, err)
		return id
	}
	id.AlmaURL = url

	template, err := p.Template(primaryID, zone)
	if err != nil {
		id.Err = fmt.Errorf("provisioning %s: %w", primaryID, err)
		return id
	}

	password, err := GeneratePassword(p.random, p.cfg.Staff.PasswordLength)
	if err != nil {
		id.Err = fmt.Errorf("provisioning %s: %w", primaryID, err)
		return id
	}
	id.Password = password

	p.removeStale(ctx, primaryID, zone)

	if _, err := p.client.Create(ctx, zone, id.Env, template, password); err != nil {
		id.Err = fmt.Errorf("provisioning %s: %w", primaryID, err)
		return id
	}

	p.log.Infof("Temporary staff account %s created in %s (%s)", primaryID, zone, id.Env)
	return id
}

// removeStale deletes a leftover account with the same ID, if any.
func (p *Provisioner) removeStale(ctx context.Context, primaryID, zone string) {
	err := p.client.Delete(ctx, primaryID, zone, p.cfg.Environment)
	switch {
	case err == nil:
		p.log.Warnf("Removed stale staff account %s in %s", primaryID, zone)
	case errors.Is(err, alma.ErrUserNotFound):
	default:
		p.log.Debugf("Stale account check for %s failed: %v", primaryID, err)
	}
}

// Delete removes the account. Errors are logged, never returned.
func (p *Provisioner) Delete(ctx context.Context, id *Identity) {
	if id == nil {
		return
	}
	if err := p.client.Delete(ctx, id.PrimaryID, id.Zone, id.Env); err != nil {
		p.log.Warnf("Failed to delete staff account %s in %s: %v", id.PrimaryID, id.Zone, err)
		return
	}
	p.log.Infof("Temporary staff account %s deleted from %s", id.PrimaryID, id.Zone)
}

// GeneratePassword draws length characters uniformly from letters, digits
// and punctuation using random, which must be a cryptographic source.
func GeneratePassword(random io.Reader, length int) (string, error) {
	if length < config.MinPasswordLength {
		return "", fmt.Errorf("password length %d is below the minimum of %d", length, config.MinPasswordLength)
	}

	limit := big.NewInt(int64(len(passwordCharset)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(random, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		b.WriteByte(passwordCharset[n.Int64()])
	}
	return b.String(), nil
}
