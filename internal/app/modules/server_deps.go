package modules

import (
	"github.com/VicenzaTech/psm-backend/internal/api/handlers"
	"github.com/VicenzaTech/psm-backend/internal/api/middleware"
	"github.com/VicenzaTech/psm-backend/internal/config"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	var deps handlers.ServerDeps
	if pool := infra.Pool(); pool != nil {
		deps.DB = pool
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}

// JWTConfig derives token verification settings from cfg.
func JWTConfig(cfg *config.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSigningKey),
		Issuer:     cfg.Security.JWTIssuer,
	}
}
