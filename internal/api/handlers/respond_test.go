package handlers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpilot/adops-go/internal/utils"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "validation maps to 400",
			err:        utils.NewValidationError("total budget must be positive"),
			wantStatus: 400,
			wantBody:   "total budget must be positive",
		},
		{
			name:       "not found maps to 404",
			err:        utils.NewNotFoundError("experiment", "exp-9"),
			wantStatus: 404,
			wantBody:   "experiment exp-9 not found",
		},
		{
			name:       "unknown errors are not leaked",
			err:        errors.New("pq: connection refused"),
			wantStatus: 500,
			wantBody:   "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			respondError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["error"])
		})
	}
}
