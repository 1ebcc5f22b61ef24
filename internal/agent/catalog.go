package agent

import (
	"fmt"
	"strings"

	"courier/internal/history"
	"courier/internal/llm"
)

// Descriptor is the public identity of an agent.
type Descriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

// Profile is a named agent configuration: identity, aliases it answers to,
// system prompt, and the tool names it may call (empty = no tools).
type Profile struct {
	Descriptor
	Aliases      []string
	SystemPrompt string
	Tools        []string
}

// UnknownAgentError reports a name that matched no alias in the catalog.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %q", e.Name)
}

func builtinProfiles() []*Profile {
	return []*Profile{
		{
			Descriptor: Descriptor{
				ID:          "book",
				DisplayName: "Book Assistant",
				Description: "Recommends books and answers questions about authors, genres and reading lists.",
			},
			Aliases:      []string{"book", "book-assistant"},
			SystemPrompt: "You are a knowledgeable book assistant. Recommend books, discuss authors and help the user build reading lists. Be concise and concrete.",
		},
		{
			Descriptor: Descriptor{
				ID:          "crypto",
				DisplayName: "Crypto Assistant",
				Description: "Answers cryptocurrency questions and looks up current market data.",
			},
			Aliases:      []string{"crypto", "crypto-assistant"},
			SystemPrompt: "You are a cryptocurrency assistant. Use the web tool to look up current prices and market data before answering. Never invent numbers.",
			Tools:        []string{"web"},
		},
		{
			Descriptor: Descriptor{
				ID:          "general",
				DisplayName: "General Assistant",
				Description: "General-purpose conversational assistant.",
			},
			Aliases:      []string{"general", "assistant"},
			SystemPrompt: "You are a helpful general-purpose assistant.",
			Tools:        []string{"web"},
		},
	}
}

// Catalog holds the fixed agent table and the shared collaborators every
// chat handle needs. Resolution is pure: looking up a name never mutates
// anything.
type Catalog struct {
	provider llm.Provider
	store    *history.Store
	registry *Registry
	profiles []*Profile
	aliases  map[string]*Profile
}

func NewCatalog(provider llm.Provider, store *history.Store, registry *Registry) *Catalog {
	c := &Catalog{
		provider: provider,
		store:    store,
		registry: registry,
		profiles: builtinProfiles(),
		aliases:  make(map[string]*Profile),
	}
	for _, p := range c.profiles {
		for _, alias := range p.Aliases {
			c.aliases[strings.ToLower(alias)] = p
		}
	}
	return c
}

// Resolve maps an alias to its agent, case-insensitively.
func (c *Catalog) Resolve(name string) (Handle, error) {
	p, ok := c.aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &UnknownAgentError{Name: name}
	}
	return &handle{profile: p, catalog: c}, nil
}

// Descriptors lists every agent in catalog order.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p.Descriptor)
	}
	return out
}

type handle struct {
	profile *Profile
	catalog *Catalog
}

func (h *handle) Descriptor() Descriptor { return h.profile.Descriptor }

func (h *handle) NewChat(sessionID string) Chat {
	registry := h.catalog.registry.Scope(h.profile.Tools)
	return newChat(sessionID, h.profile, h.catalog.provider, h.catalog.store, registry)
}
