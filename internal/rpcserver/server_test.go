package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryvault/internal/memerr"
)

func TestRunDispatchesRegisteredMethod(t *testing.T) {
	var out bytes.Buffer
	s := NewWithIO(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}`+"\n"), &out)
	s.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{"pong": true}, nil
	})

	err := s.Run(context.Background())
	assert.NoError(t, err) // EOF on a fully-consumed strings.Reader surfaces as nil

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["pong"])
}

func TestRunReturnsParseErrorOnMalformedLine(t *testing.T) {
	var out bytes.Buffer
	s := NewWithIO(strings.NewReader("not json\n"), &out)

	require.NoError(t, s.Run(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)
}

func TestRunReturnsMethodNotFound(t *testing.T) {
	var out bytes.Buffer
	s := NewWithIO(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"nope"}`+"\n"), &out)

	require.NoError(t, s.Run(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestRunMapsHandlerErrorKindToJSONRPCCode(t *testing.T) {
	var out bytes.Buffer
	s := NewWithIO(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"boom"}`+"\n"), &out)
	s.Register("boom", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, memerr.New(memerr.Validation, "bad input")
	})

	require.NoError(t, s.Run(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestRunSkipsBlankLines(t *testing.T) {
	var out bytes.Buffer
	s := NewWithIO(strings.NewReader("\n"+`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	s.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return "pong", nil
	})

	require.NoError(t, s.Run(context.Background()))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "pong", resp.Result)
}
