package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/config"
)

func testConfig(t *testing.T, persistenceType config.PersistenceType) *config.RedeemServerConfig {
	cfg := config.NewDefaultRedeemServerConfig()
	cfg.TreasuryAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	cfg.OwnerAddress = "0x8626f6940E2eb28930eFb4CeF49B2d1F2C9C1199"
	cfg.Persistence.Type = persistenceType
	cfg.Persistence.DataPath = filepath.Join(t.TempDir(), "data")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildService(t *testing.T) {
	for _, pt := range []config.PersistenceType{
		config.PersistenceTypeMemory,
		config.PersistenceTypeBadger,
		config.PersistenceTypeLevelDB,
	} {
		t.Run(string(pt), func(t *testing.T) {
			svc, err := buildService(context.Background(), testConfig(t, pt), zap.NewNop())
			require.NoError(t, err)
			defer svc.close()

			owner, err := svc.ledger.Owner(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "0x8626f6940E2eb28930eFb4CeF49B2d1F2C9C1199", owner.Hex())

			for _, path := range []string{"/healthz", "/metrics", "/v1/owner"} {
				w := httptest.NewRecorder()
				svc.server.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				assert.Equal(t, http.StatusOK, w.Code, path)
			}
		})
	}
}

func TestBuildService_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, config.PersistenceTypeMemory)
	cfg.MetricsEnabled = false

	svc, err := buildService(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.close()

	w := httptest.NewRecorder()
	svc.server.GetHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBuildService_NoOwner(t *testing.T) {
	cfg := testConfig(t, config.PersistenceTypeMemory)
	cfg.OwnerAddress = ""

	_, err := buildService(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}
