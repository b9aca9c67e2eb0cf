package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/vantagechat/engage/internal/config"
	"github.com/vantagechat/engage/internal/engine"
	"github.com/vantagechat/engage/internal/session"
	"github.com/vantagechat/engage/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), nil, nil, false))
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: "  "}, nil, false))
}

func TestBuildRedisClientVerify(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	require.NotNil(t, client)
	defer client.Close()

	// An unreachable address with verification returns nil.
	bad := &appconfig.Config{RedisAddr: "127.0.0.1:1"}
	assert.Nil(t, BuildRedisClient(context.Background(), bad, logging.New("error"), true))
}

func TestBuildEventRecorderDisabledWithoutDatabase(t *testing.T) {
	rec, closeFn := BuildEventRecorder(context.Background(), &appconfig.Config{}, logging.New("error"))
	defer closeFn()
	assert.Nil(t, rec)
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := &appconfig.Config{
		OnboardingOnly:     true,
		AIQuestionsEnabled: true,
		FollowupDelay:      90 * time.Second,
		FollowupCap:        2,
		BookingTimezone:    "America/Chicago",
		BookingDayWindow:   5,
	}

	ec := EngineConfig(cfg)
	assert.True(t, ec.OnboardingOnly)
	assert.True(t, ec.AIQuestionsEnabled)
	assert.Equal(t, 90*time.Second, ec.FollowupDelay)
	assert.Equal(t, 2, ec.FollowupCap)
	assert.Equal(t, "America/Chicago", ec.BookingTimezone)
	assert.Equal(t, 5, ec.BookingDayWindow)
}

func TestBuildEngineFactory(t *testing.T) {
	store := session.NewStore(nil, time.Hour, logging.New("error"))
	factory := BuildEngineFactory(EngineDeps{
		Config: engine.Config{},
		Store:  store,
		Logger: logging.New("error"),
	})

	eng := factory("sess-1", nil)
	require.NotNil(t, eng)
	assert.Empty(t, eng.Messages())
}
