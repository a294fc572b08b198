package tools

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/mcpclient"
	"github.com/sammcj/toolloop/registry"
)

// Catalog owns the resources behind each tool location. Databases and MCP
// server processes are opened on first discovery and reused afterwards.
type Catalog struct {
	cfg    *config.Config
	logger *log.Logger

	mu      sync.Mutex
	db      *DatabaseTool
	remotes map[string]*mcpclient.Client
	closers []io.Closer
}

// NewCatalog creates a catalog for cfg
func NewCatalog(cfg *config.Config, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = log.Default()
	}
	return &Catalog{
		cfg:     cfg,
		logger:  logger,
		remotes: make(map[string]*mcpclient.Client),
	}
}

// Locations returns every location this catalog can load
func (c *Catalog) Locations(ctx context.Context) registry.Locations {
	return registry.Locations{
		"builtin":    c.loadBuiltin,
		"filesystem": c.loadFilesystem,
		"http":       c.loadHTTP,
		"database":   c.loadDatabase,
		"mcp": func(r *registry.Registry) error {
			return c.loadMCP(ctx, r)
		},
	}
}

func (c *Catalog) loadBuiltin(r *registry.Registry) error {
	for _, tool := range []registry.Tool{AddTool(), WeatherTool(), NewTimeTool().Tool()} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) loadFilesystem(r *registry.Registry) error {
	fs, err := NewFileSystemTool(c.cfg.Tools.FilesystemRoot)
	if err != nil {
		return err
	}
	return r.Register(fs.Tool())
}

func (c *Catalog) loadHTTP(r *registry.Registry) error {
	return r.Register(NewHTTPTool(c.cfg.Tools.HTTPAllowList, c.cfg.HTTPToolTimeout()).Tool())
}

func (c *Catalog) loadDatabase(r *registry.Registry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		c.logger.Printf("Creating database tool with path: %s", c.cfg.Database.Path)
		db, err := NewDatabaseTool(c.cfg.Database.Path)
		if err != nil {
			return err
		}
		c.db = db
		c.closers = append(c.closers, db)
	}
	return r.Register(c.db.Tool())
}

func (c *Catalog) loadMCP(ctx context.Context, r *registry.Registry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, server := range c.cfg.MCPServers {
		client, ok := c.remotes[server.Name]
		if !ok {
			var err error
			client, err = mcpclient.Start(ctx, server, c.logger)
			if err != nil {
				return err
			}
			c.remotes[server.Name] = client
			c.closers = append(c.closers, client)
		}

		n, err := mcpclient.RegisterRemoteTools(ctx, r, server.Name, client, c.logger)
		if err != nil {
			return err
		}
		c.logger.Printf("Registered %d tools from MCP server %s", n, server.Name)
	}
	return nil
}

// Close releases every opened database and server process
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	c.db = nil
	c.remotes = make(map[string]*mcpclient.Client)
	return errors.Join(errs...)
}
