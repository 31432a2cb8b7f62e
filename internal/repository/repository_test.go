package repository

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/lvdashuaibi/luckydraw/internal/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecrementResult(t *testing.T) {
	tests := []struct {
		name      string
		result    interface{}
		remaining int
		wantErr   error
	}{
		{name: "成功", result: []interface{}{int64(0), int64(0)}, remaining: 0},
		{name: "不存在", result: []interface{}{int64(-1), "not_found"}, wantErr: ticket.ErrTicketNotFound},
		{name: "已耗尽", result: []interface{}{int64(-1), "exhausted"}, wantErr: ticket.ErrTicketExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining, err := parseDecrementResult(tt.result)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, remaining)
		})
	}

	_, err := parseDecrementResult("OK")
	assert.Error(t, err)
	_, err = parseDecrementResult([]interface{}{int64(-1), "corrupted"})
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"migrations/000001_create_documents.up.sql",
		"migrations/000001_create_documents.down.sql",
	}, files)
}

func TestDecodeFields(t *testing.T) {
	fields, err := decodeFields([]byte(`{"name":"Mug","stock":3}`))
	require.NoError(t, err)
	assert.Equal(t, "Mug", fields["name"])
	assert.EqualValues(t, 3, fields["stock"])

	_, err = decodeFields([]byte(`not json`))
	assert.Error(t, err)
}

func TestAuthorizationKey(t *testing.T) {
	assert.Equal(t, "luckydraw:authorized:doorprize:dev-1", authorizationKey("doorprize", "dev-1"))
}
