// Finspilot - Business Records and Accounting Suite
// Copyright 2026 Private Abushaqra
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/PrivateAbushaqra/Finspilot-sub002

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestCtxAttachesCorrelationID(t *testing.T) {
	old := Logger()
	defer SetLogger(old)

	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	ctx := ContextWithCorrelationID(context.Background(), "abc-123")
	Ctx(ctx).Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"abc-123"`) {
		t.Errorf("log line missing correlation id: %s", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("log line missing message: %s", out)
	}
}

func TestCtxWithoutCorrelationID(t *testing.T) {
	old := Logger()
	defer SetLogger(old)

	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))

	Ctx(context.Background()).Info().Msg("plain")

	if strings.Contains(buf.String(), "correlation_id") {
		t.Errorf("log line has unexpected correlation id: %s", buf.String())
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := ContextWithNewCorrelationID(context.Background())
	if CorrelationIDFromContext(ctx) == "" {
		t.Error("new correlation id should be retrievable")
	}
	if CorrelationIDFromContext(context.Background()) != "" {
		t.Error("bare context should carry no correlation id")
	}
}
