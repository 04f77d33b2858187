// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package execpipe_test

import (
	"context"
	"testing"
	"time"

	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/execpipe"
	"github.com/stretchr/testify/assert"
)

func TestRun_AllowlistByMode(t *testing.T) {
	tests := []struct {
		name   string
		mode   config.Mode
		argv   []string
		denied bool
	}{
		{"observe denies everything", config.ModeObserve, []string{"ping", "-c", "1"}, true},
		{"shadow allows diagnostic", config.ModeShadow, []string{"ping", "-c", "1"}, false},
		{"shadow denies mutating", config.ModeShadow, []string{"iptables", "-L"}, true},
		{"takeover allows mutating", config.ModeTakeover, []string{"iptables", "-L"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execpipe.Run(context.Background(), execpipe.Request{Argv: tt.argv, Timeout: time.Second}, tt.mode)
			assert.Equal(t, tt.denied, res.Denied)
		})
	}
}

func TestRun_PathSeparatorRejected(t *testing.T) {
	res := execpipe.Run(context.Background(), execpipe.Request{Argv: []string{"/bin/ping"}}, config.ModeTakeover)
	assert.True(t, res.Denied)
	assert.Equal(t, "disallowed_path", res.DenyReason)
}

func TestRun_EmptyArgv(t *testing.T) {
	res := execpipe.Run(context.Background(), execpipe.Request{}, config.ModeTakeover)
	assert.True(t, res.Denied)
	assert.Equal(t, -1, res.ExitCode)
}
