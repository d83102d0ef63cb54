package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/api/middleware"
	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/config"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/repository/memory"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

const sampleCatalog = `
workshops:
  - code: WS-1
    name: Press workshop
    lines:
      - code: L-1
        name: Line 1
      - code: L-2
        name: Line 2
  - code: WS-2
    name: Kiln workshop
brickTypes:
  - code: BT-6060
    name: Granite 60x60
    type: granite
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newMemorySeeder(sink audit.Sink) *Seeder {
	deps := service.Deps{Repos: memory.New(), Cache: cache.New(cache.NewMemoryStore(), nil)}
	workshops := service.NewWorkshopService(deps)
	return &Seeder{
		Workshops:  workshops,
		Lines:      service.NewProductionLineService(deps, workshops),
		BrickTypes: service.NewBrickTypeService(deps),
		Sink:       sink,
		Actor:      "seed",
	}
}

func testEnv(seeder *Seeder) env {
	return env{
		loadConfig: func() (*config.Config, error) {
			return &config.Config{
				Log:      config.LogConfig{Level: "error", Format: "json"},
				Security: config.SecurityConfig{JWTSigningKey: "0123456789abcdef0123456789abcdef", JWTIssuer: "psm"},
			}, nil
		},
		openSeeder: func(context.Context, *config.Config, string) (*Seeder, func(), error) {
			return seeder, func() {}, nil
		},
	}
}

func execute(t *testing.T, e env, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(e)
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	workshops, lines, brickTypes := c.Counts()
	assert.Equal(t, 2, workshops)
	assert.Equal(t, 2, lines)
	assert.Equal(t, 1, brickTypes)
}

func TestLoadCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", "", "catalog is empty"},
		{"unknown key", "workshops:\n  - code: A\n    name: A\n    colour: red\n", "colour"},
		{"missing name", "workshops:\n  - code: A\n", "workshops[0]: name is required"},
		{"duplicate workshop", "workshops:\n  - {code: A, name: A}\n  - {code: A, name: B}\n", `duplicate workshop code "A"`},
		{"duplicate line", "workshops:\n  - code: A\n    name: A\n    lines:\n      - {code: L, name: L}\n      - {code: L, name: M}\n", `duplicate line code "L"`},
		{"duplicate brick type", "brickTypes:\n  - {code: B, name: B}\n  - {code: B, name: C}\n", `duplicate brick type code "B"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSeeder_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := &audit.MemorySink{}
	seeder := newMemorySeeder(sink)
	c, err := LoadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)

	sum, err := seeder.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Summary{Created: 5}, sum)
	assert.Len(t, sink.Records(), 5)
	for _, rec := range sink.Records() {
		assert.Equal(t, "seed", rec.Actor)
	}

	sum, err = seeder.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 5}, sum)

	c.Workshops[0].Lines[1].Name = "Line 2 (glazing)"
	c.BrickTypes[0].Type = "porcelain"
	sum, err = seeder.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 2, Unchanged: 3}, sum)

	types, err := seeder.BrickTypes.List(ctx, "porcelain", nil)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "BT-6060", types[0].Code)
	assert.Equal(t, domain.ActionUpdateBrickType, sink.Records()[len(sink.Records())-1].Action)
}

func TestSeeder_MatchesDisabledWorkshop(t *testing.T) {
	ctx := context.Background()
	seeder := newMemorySeeder(nil)
	c, err := LoadCatalog(strings.NewReader("workshops:\n  - {code: WS-1, name: Press}\n"))
	require.NoError(t, err)

	_, err = seeder.Apply(ctx, c)
	require.NoError(t, err)
	_, err = seeder.Workshops.Disable(ctx, 1, "admin")
	require.NoError(t, err)

	sum, err := seeder.Apply(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 1}, sum)
}

func TestCmd_Validate(t *testing.T) {
	out, err := execute(t, testEnv(nil), "validate", "-f", writeFile(t, sampleCatalog))
	require.NoError(t, err)
	assert.Contains(t, out, "catalog ok: 2 workshops, 2 lines, 1 brick types")

	_, err = execute(t, testEnv(nil), "validate")
	assert.Error(t, err)

	_, err = execute(t, testEnv(nil), "validate", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCmd_Apply(t *testing.T) {
	seeder := newMemorySeeder(nil)
	out, err := execute(t, testEnv(seeder), "apply", "-f", writeFile(t, sampleCatalog))
	require.NoError(t, err)
	assert.Contains(t, out, "seed applied: 5 created, 0 updated, 0 unchanged")
}

func TestCmd_Token(t *testing.T) {
	e := testEnv(nil)
	out, err := execute(t, e, "token", "--username", "alice", "--roles", "planner, operator")
	require.NoError(t, err)

	cfg, err := e.loadConfig()
	require.NoError(t, err)
	claims, err := middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSigningKey),
		Issuer:     cfg.Security.JWTIssuer,
	}.ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Actor())
	assert.Equal(t, []string{"planner", "operator"}, claims.Roles)
}
