package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-checkin/internal/credential"
	"github.com/iliyamo/event-checkin/internal/utils"
)

func TestRun_Token(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"token", "--secret", "s3cret", "--role", "operator", "--subject", "ops"}, nil, &out)
	require.NoError(t, err)

	sub, role, err := utils.ParseAccessToken("s3cret", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)
	assert.Equal(t, utils.RoleOperator, role)

	assert.Error(t, run([]string{"token", "--secret", "s", "--role", "admin", "--subject", "x"}, nil, &out))
	assert.Error(t, run([]string{"token", "--secret", "s"}, nil, &out))
}

func TestRun_KeyIsUsableInKeyring(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"key", "--id", "2026a"}, nil, &out))

	ring, err := credential.ParseKeyring(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "2026a", ring.ActiveID())

	assert.Error(t, run([]string{"key", "--id", "a:b"}, nil, &out))
}

func TestRun_PinFromStdin(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"pin", "--cost", "4"}, strings.NewReader("2468\n"), &out))
	assert.True(t, utils.VerifyPIN(strings.TrimSpace(out.String()), "2468"))

	assert.ErrorIs(t, run([]string{"pin", "--pin", "12", "--cost", "4"}, nil, &out), utils.ErrWeakPIN)
}

func TestRun_Unknown(t *testing.T) {
	assert.Error(t, run(nil, nil, &bytes.Buffer{}))
	assert.Error(t, run([]string{"bogus"}, nil, &bytes.Buffer{}))
}
