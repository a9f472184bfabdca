package authcode

import (
	"fmt"
	"os"
	"strings"

	"github.com/tech-arch1tect/authkit/config"
	"gopkg.in/yaml.v3"
)

// Client is a registered first-party public client.
type Client struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	RedirectURIs []string `yaml:"redirect_uris"`
	// Scopes limits what the client may request. Empty allows any scope.
	Scopes []string `yaml:"scopes"`
}

func (c Client) AllowsRedirect(uri string) bool {
	for _, r := range c.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

func (c Client) AllowsScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	allowed := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = true
	}
	for _, s := range strings.Fields(scope) {
		if !allowed[s] {
			return false
		}
	}
	return true
}

type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.add(c)
	}
	return r
}

func (r *Registry) add(c Client) {
	if existing, ok := r.clients[c.ID]; ok {
		existing.RedirectURIs = append(existing.RedirectURIs, c.RedirectURIs...)
		existing.Scopes = append(existing.Scopes, c.Scopes...)
		if c.Name != "" {
			existing.Name = c.Name
		}
		c = existing
	}
	r.clients[c.ID] = c
}

func (r *Registry) Lookup(id string) (Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) Len() int {
	return len(r.clients)
}

type registryFile struct {
	Clients []Client `yaml:"clients"`
}

// LoadRegistry merges the env allow-list with the optional YAML clients file.
// Every env client shares the env redirect URI list.
func LoadRegistry(cfg config.AuthCodeConfig) (*Registry, error) {
	r := NewRegistry()
	for _, id := range cfg.ClientIDs {
		if id = strings.TrimSpace(id); id != "" {
			r.add(Client{ID: id, RedirectURIs: append([]string(nil), cfg.RedirectURIs...)})
		}
	}

	if cfg.ClientsFile == "" {
		return r, nil
	}

	data, err := os.ReadFile(cfg.ClientsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read clients file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse clients file: %w", err)
	}
	for i, c := range file.Clients {
		if c.ID == "" {
			return nil, fmt.Errorf("clients file entry %d has no id", i)
		}
		if len(c.RedirectURIs) == 0 {
			return nil, fmt.Errorf("client %q has no redirect uris", c.ID)
		}
		r.add(c)
	}
	return r, nil
}
