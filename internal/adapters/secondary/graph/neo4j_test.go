package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

func TestHandleError(t *testing.T) {
	refused := &neo4j.ConnectivityError{Inner: errors.New("connection refused")}
	syntax := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "bad cypher"}

	tests := []struct {
		name            string
		err             error
		wantUnavailable bool
		wantIs          error
	}{
		{"connectivity", refused, true, nil},
		{"wrapped connectivity", fmt.Errorf("session: %w", refused), true, nil},
		{"retry budget exhausted", &neo4j.TransactionExecutionLimit{Cause: "timeout", Errors: []error{refused}}, true, nil},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), true, context.DeadlineExceeded},
		{"client canceled", context.Canceled, false, context.Canceled},
		{"query error", syntax, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := handleError(tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.wantUnavailable, errors.Is(got, domain.ErrStoreUnavailable))
			assert.ErrorIs(t, got, tt.err, "the driver error stays inspectable")
			if tt.wantIs != nil {
				assert.ErrorIs(t, got, tt.wantIs)
			}
		})
	}
	assert.NoError(t, handleError(nil))
}
