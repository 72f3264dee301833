package openstack

import (
	"context"
	"fmt"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/secgroups"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/startstop"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/stackfleet/conductor/internal/backend"
	"github.com/stackfleet/conductor/internal/config"
	resourcedomain "github.com/stackfleet/conductor/internal/resource/domain"
	"go.uber.org/zap"
)

const (
	defaultSecurityGroup = "conductor-default"

	// provision and destroy poll until the server settles or this many
	// seconds pass
	waitTimeoutSec = 600
)

// Client talks to an OpenStack cloud through the Nova API.
type Client struct {
	compute *gophercloud.ServiceClient
	log     *zap.Logger
	cfg     config.BackendConfig
}

func New(cfg config.Config, log *zap.Logger) (*Client, error) {
	ao := gophercloud.AuthOptions{
		IdentityEndpoint: cfg.Backend.AuthURL,
		Username:         cfg.Backend.Username,
		Password:         cfg.Backend.Password,
		TenantName:       cfg.Backend.ProjectName,
		DomainName:       cfg.Backend.DomainName,
		AllowReauth:      true,
	}
	provider, err := openstack.AuthenticatedClient(ao)
	if err != nil {
		return nil, fmt.Errorf("authenticate against %s: %w", cfg.Backend.AuthURL, err)
	}

	compute, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: cfg.Backend.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("locate compute endpoint: %w", err)
	}

	return &Client{
		compute: compute,
		log:     log.Named("backend.openstack"),
		cfg:     cfg.Backend,
	}, nil
}

// SyncLink makes sure the tenant-side prerequisites exist. Today that is
// the default security group resources are launched into.
func (c *Client) SyncLink(ctx context.Context, link resourcedomain.ServiceProjectLink) error {
	_, err := c.EnsureSecurityGroup(defaultSecurityGroup, "managed by conductor")
	return backend.Wrap("sync_link", err)
}

func (c *Client) Provision(ctx context.Context, link resourcedomain.ServiceProjectLink, resource resourcedomain.Resource) (string, error) {
	flavorID, err := c.flavorIDByName(resource.FlavorName)
	if err != nil {
		return "", backend.Wrap("provision", err)
	}

	server, err := servers.Create(c.compute, servers.CreateOpts{
		Name:           resource.Name,
		FlavorRef:      flavorID,
		ImageRef:       c.cfg.ImageRef,
		SecurityGroups: []string{defaultSecurityGroup},
		Networks: []servers.Network{
			{UUID: c.cfg.NetworkID},
		},
	}).Extract()
	if err != nil {
		return "", backend.Wrap("provision", err)
	}

	if err := servers.WaitForStatus(c.compute, server.ID, "ACTIVE", waitTimeoutSec); err != nil {
		return server.ID, backend.Wrap("provision", err)
	}

	c.log.Info("server provisioned",
		zap.String("backend_id", server.ID),
		zap.String("resource_uuid", resource.UUID),
	)
	return server.ID, nil
}

// flavorIDByName resolves a flavor name to its ID by walking the
// flavor list. Nova only accepts IDs in create requests.
func (c *Client) flavorIDByName(name string) (string, error) {
	pages, err := flavors.ListDetail(c.compute, flavors.ListOpts{}).AllPages()
	if err != nil {
		return "", err
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", err
	}
	for i := range all {
		if all[i].Name == name {
			return all[i].ID, nil
		}
	}
	return "", fmt.Errorf("flavor %q not found", name)
}

func (c *Client) Start(ctx context.Context, resource resourcedomain.Resource) error {
	if err := startstop.Start(c.compute, resource.BackendID).ExtractErr(); err != nil {
		return backend.Wrap("start", err)
	}
	return backend.Wrap("start", servers.WaitForStatus(c.compute, resource.BackendID, "ACTIVE", waitTimeoutSec))
}

func (c *Client) Stop(ctx context.Context, resource resourcedomain.Resource) error {
	if err := startstop.Stop(c.compute, resource.BackendID).ExtractErr(); err != nil {
		return backend.Wrap("stop", err)
	}
	return backend.Wrap("stop", servers.WaitForStatus(c.compute, resource.BackendID, "SHUTOFF", waitTimeoutSec))
}

func (c *Client) Restart(ctx context.Context, resource resourcedomain.Resource) error {
	err := servers.Reboot(c.compute, resource.BackendID, servers.RebootOpts{
		Type: servers.SoftReboot,
	}).ExtractErr()
	if err != nil {
		return backend.Wrap("restart", err)
	}
	return backend.Wrap("restart", servers.WaitForStatus(c.compute, resource.BackendID, "ACTIVE", waitTimeoutSec))
}

func (c *Client) Destroy(ctx context.Context, resource resourcedomain.Resource) error {
	err := servers.Delete(c.compute, resource.BackendID).ExtractErr()
	if _, ok := err.(gophercloud.ErrDefault404); ok {
		// already gone on the backend side
		return nil
	}
	return backend.Wrap("destroy", err)
}

// EnsureSecurityGroup returns the named group, creating it when absent.
func (c *Client) EnsureSecurityGroup(name, description string) (*secgroups.SecurityGroup, error) {
	pages, err := secgroups.List(c.compute).AllPages()
	if err != nil {
		return nil, err
	}
	groups, err := secgroups.ExtractSecurityGroups(pages)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i], nil
		}
	}

	group, err := secgroups.Create(c.compute, secgroups.CreateOpts{
		Name:        name,
		Description: description,
	}).Extract()
	if err != nil {
		return nil, err
	}
	c.log.Info("security group created", zap.String("name", name))
	return group, nil
}

// DeleteSecurityGroup removes a group created by EnsureSecurityGroup.
func (c *Client) DeleteSecurityGroup(id string) error {
	return secgroups.Delete(c.compute, id).ExtractErr()
}
