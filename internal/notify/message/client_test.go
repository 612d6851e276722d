// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package message

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/machiyomi/internal/platform/apperr"
)

func TestSendCarriesAuthAndIdempotencyKey(t *testing.T) {
	var gotAuth, gotKey string
	var gotBody Request

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(t, "/v1/messages", request.URL.Path)
		gotAuth = request.Header.Get("Authorization")
		gotKey = request.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(request.Body).Decode(&gotBody))

		writer.WriteHeader(http.StatusCreated)
		_, _ = writer.Write([]byte(`{"message_id": "msg-900"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)

	messageID, err := client.Send(context.Background(), Request{
		Recipient: "reader@example.test",
		Sender:    "machiyomi@localhost",
		Subject:   "subject",
		TextBody:  "body",
	}, "delivery-row-1")

	require.NoError(t, err)
	assert.Equal(t, "msg-900", messageID)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "delivery-row-1", gotKey)
	assert.Equal(t, "reader@example.test", gotBody.Recipient)
}

func TestSendClassifiesProviderErrors(t *testing.T) {
	testCases := []struct {
		name         string
		status       int
		expectedCode string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, expectedCode: "UNAUTHORIZED"},
		{name: "forbidden", status: http.StatusForbidden, expectedCode: "UNAUTHORIZED"},
		{name: "rate limited", status: http.StatusTooManyRequests, expectedCode: "RATE_LIMITED"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(testCase.status)
			}))
			defer server.Close()

			client := NewClient(server.URL, "secret-key", 5*time.Second)

			_, err := client.Send(context.Background(), Request{}, "key")
			require.Error(t, err)

			appError := apperr.As(err)
			require.NotNil(t, appError, "provider errors must be classified")
			assert.Equal(t, testCase.expectedCode, appError.Code)
		})
	}
}

func TestSendServerErrorStaysRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)

	_, err := client.Send(context.Background(), Request{}, "key")
	require.Error(t, err)
	assert.Nil(t, apperr.As(err), "5xx is a plain retryable error, not a terminal classification")
}

func TestSendRejectsAckWithoutMessageID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, _ = writer.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key", 5*time.Second)

	_, err := client.Send(context.Background(), Request{}, "key")
	assert.Error(t, err)
}
