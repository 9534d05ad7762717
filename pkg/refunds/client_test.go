package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/refund-approvals/pkg/events"
	"github.com/dukex/refund-approvals/pkg/mocks"
	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

func TestClient_GetRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refunds/r-1":
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"r-1","amount":5000,"currency":"USD","merchant_id":"m-1","method":"WIRE"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL+"/", slog.Default())

	refund, err := client.GetRefund(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, 5000.0, refund.Amount)
	assert.Equal(t, "m-1", refund.MerchantID)
	assert.Equal(t, "WIRE", refund.Method)

	_, err = client.GetRefund(context.Background(), "missing")
	assert.ErrorIs(t, err, protocol.ErrRefundNotFound)
}

func TestClient_UpdateRefundStatus(t *testing.T) {
	var received statusUpdate

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refunds/r-1/status" || r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))

			return
		}

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, slog.Default())

	err := client.UpdateRefundStatus(context.Background(), "r-1", protocol.RefundStatusApproved, map[string]any{"approval_id": "a-1"})
	require.NoError(t, err)
	assert.Equal(t, protocol.RefundStatusApproved, received.Status)
	assert.Equal(t, "a-1", received.Meta["approval_id"])

	err = client.UpdateRefundStatus(context.Background(), "r-2", protocol.RefundStatusRejected, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, slog.Default())

	for range 7 {
		_, _ = client.GetRefund(context.Background(), "r-1")
	}

	assert.Equal(t, 5, calls)
}

func TestMemory(t *testing.T) {
	store := NewMemory()
	store.Put(&models.RefundSnapshot{ID: "r-1", Amount: 10})

	refund, err := store.GetRefund(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, refund.Amount)

	require.NoError(t, store.UpdateRefundStatus(context.Background(), "r-1", protocol.RefundStatusApproved, nil))
	assert.Equal(t, []StatusChange{{RefundID: "r-1", Status: protocol.RefundStatusApproved}}, store.StatusChanges())

	_, err = store.GetRefund(context.Background(), "r-2")
	assert.ErrorIs(t, err, protocol.ErrRefundNotFound)
	assert.ErrorIs(t, store.UpdateRefundStatus(context.Background(), "r-2", "APPROVED", nil), protocol.ErrRefundNotFound)
}

func TestEventBusStatusPublisher(t *testing.T) {
	store := NewMemory()
	store.Put(&models.RefundSnapshot{ID: "r-1"})

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "r-1", mock.MatchedBy(func(e events.RefundStatusUpdateRequested) bool {
		return e.Status == protocol.RefundStatusRejected && e.ApprovalID == "a-1" && e.RefundID == "r-1"
	})).Return(nil)

	publisher := NewEventBusStatusPublisher(store, bus, slog.Default())

	err := publisher.UpdateRefundStatus(context.Background(), "r-1", protocol.RefundStatusRejected, map[string]any{"approval_id": "a-1"})
	require.NoError(t, err)

	refund, err := publisher.GetRefund(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, protocol.RefundStatusRejected, refund.Status)
	bus.AssertExpectations(t)
}
