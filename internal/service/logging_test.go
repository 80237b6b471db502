package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gear-rental/internal/repository"
	"github.com/iliyamo/gear-rental/internal/testfixtures"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func TestLogResult_LevelsAndMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	logResult(ctx, logger, nil, "approve user")
	logResult(ctx, logger, ErrForbidden, "approve user")
	logResult(ctx, logger, errors.New("disk full"), "approve user")

	recs := logLines(t, &buf)
	require.Len(t, recs, 3)
	assert.Equal(t, "approve user succeeded", recs[0]["msg"])
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "approve user rejected", recs[1]["msg"])
	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "forbidden", recs[1]["error_kind"])
	assert.Equal(t, "approve user failed", recs[2]["msg"])
	assert.Equal(t, "ERROR", recs[2]["level"])
}

func TestRequestService_LogsOperationOutcome(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	gearRepo := repository.NewGearRepo(env.db)
	svc := NewRequestService(env.db, repository.NewRequestRepo(env.db), gearRepo, env.events, env.cache, env.clock.Now, logger)

	ctx := context.Background()
	member := testfixtures.SeedUser(t, env.db)
	tent := testfixtures.SeedGear(t, env.db, "Tent")

	_, err := svc.Create(ctx, member.View(), createInput(t, "2025-08-12", "2025-08-14", tent.ID))
	require.NoError(t, err)
	_, err = svc.Create(ctx, member.View(), createInput(t, "2025-08-14", "2025-08-12", tent.ID))
	require.Error(t, err)

	var msgs []string
	for _, rec := range logLines(t, &buf) {
		if rec["service"] == "RequestService" {
			msgs = append(msgs, rec["msg"].(string))
		}
	}
	assert.Contains(t, msgs, "create request succeeded")
	assert.Contains(t, msgs, "create request rejected")
	assert.NotContains(t, msgs, "create request failed")
}
