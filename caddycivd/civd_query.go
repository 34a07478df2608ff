// Package caddycivd exposes civd ROI/submap queries as a pluggable Caddy
// HTTP handler, the same way the teacher exposes tile reads as a Caddy
// handler: a thin Provision/ServeHTTP wrapper around a long-lived server.
package caddycivd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/tangyewlabs/civd-go/bridge"
	"github.com/tangyewlabs/civd-go/civd"
)

func init() {
	caddy.RegisterModule(Middleware{})
	httpcaddyfile.RegisterHandlerDirective("civd_query", parseCaddyfile)
}

// Middleware serves civd ROI/submap queries against a storage root (local
// path or bucket URL).
type Middleware struct {
	Root      string `json:"root"`
	CorsValue string `json:"cors,omitempty"`

	logger *zap.Logger
	world  *civd.World
	server *bridge.Server
}

// CaddyModule returns the Caddy module information.
func (Middleware) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.civd_query",
		New: func() caddy.Module { return new(Middleware) },
	}
}

func (m *Middleware) Provision(ctx caddy.Context) error {
	m.logger = ctx.Logger()

	world, err := civd.OpenWorld(context.Background(), m.Root)
	if err != nil {
		return err
	}
	m.world = world

	server, err := bridge.NewServer(world, m.logger, prometheus.DefaultRegisterer, m.CorsValue)
	if err != nil {
		return err
	}
	m.server = server
	return nil
}

func (m *Middleware) Validate() error {
	if m.Root == "" {
		return fmt.Errorf("no root")
	}
	return nil
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	m.server.Handler(m.CorsValue).ServeHTTP(w, r)
	return next.ServeHTTP(w, r)
}

func (m *Middleware) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() {
		for nesting := d.Nesting(); d.NextBlock(nesting); {
			switch d.Val() {
			case "root":
				if !d.Args(&m.Root) {
					return d.ArgErr()
				}
			case "cors":
				if !d.Args(&m.CorsValue) {
					return d.ArgErr()
				}
			}
		}
	}
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var m Middleware
	err := m.UnmarshalCaddyfile(h.Dispenser)
	return &m, err
}

var (
	_ caddy.Provisioner           = (*Middleware)(nil)
	_ caddy.Validator             = (*Middleware)(nil)
	_ caddyhttp.MiddlewareHandler = (*Middleware)(nil)
	_ caddyfile.Unmarshaler       = (*Middleware)(nil)
)
