// internal/api/server_test.go
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/sequencer/internal/transaction"
	"github.com/cmatc13/sequencer/pkg/config"
	"github.com/cmatc13/sequencer/pkg/errors"
	"github.com/cmatc13/sequencer/pkg/health"
	"github.com/cmatc13/sequencer/pkg/logging"
)

// fakeSequencer records submitted transactions and can reject them.
type fakeSequencer struct {
	submitted []*transaction.ConsensusTransaction
	rejectErr error
	inflight  uint64
}

func (f *fakeSequencer) SubmitTransaction(tx *transaction.ConsensusTransaction) error {
	if f.rejectErr != nil {
		return f.rejectErr
	}
	f.submitted = append(f.submitted, tx)
	return nil
}

func (f *fakeSequencer) InflightCount() uint64 {
	return f.inflight
}

func newTestServer(t *testing.T, seq *fakeSequencer) *Server {
	t.Helper()
	logger := logging.FromSlog(slogt.New(t))
	cfg := &config.Config{
		API: config.APIConfig{
			Port:               "0",
			CORSAllowedOrigins: []string{"*"},
			RateLimit:          1000,
		},
	}
	return NewServer(cfg, seq, logger, nil, health.NewRegistry(logger))
}

func TestSubmitTransactionAccepted(t *testing.T) {
	t.Parallel()

	seq := &fakeSequencer{}
	s := newTestServer(t, seq)

	payload := []byte("certificate bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, seq.submitted, 1)
	require.True(t, seq.submitted[0].IsUserCertificate())

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	require.Equal(t, string(seq.submitted[0].Key()), data["key"])
}

func TestSubmitTransactionEmptyBody(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSequencer{})

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTransactionRejectedWhileClosing(t *testing.T) {
	t.Parallel()

	seq := &fakeSequencer{rejectErr: errors.NewSubmitterError(
		errors.SubmitterErrRejectingUserCerts,
		"epoch is closing, user certificates are no longer accepted",
		nil,
	)}
	s := newTestServer(t, seq)

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", bytes.NewReader([]byte("late")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Error)
}

func TestInflightEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSequencer{inflight: 7})

	req := httptest.NewRequest(http.MethodGet, "/v1/inflight", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	require.Equal(t, float64(7), data["inflight"])
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeSequencer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
