package streaming

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cih1996/AI-intelligent-agent-system/internal/orchestrator"
)

func TestWriteSSE_DeliversEventsInOrderAndStopsAtResponse(t *testing.T) {
	worker := Run(context.Background(), func(_ context.Context, emit orchestrator.Emitter) error {
		emit(orchestrator.Event{Type: orchestrator.EventChatCallback, CallbackType: orchestrator.CallbackThinking, Content: "正在思考.."})
		emit(orchestrator.Event{Type: orchestrator.EventChatCallback, CallbackType: orchestrator.CallbackReply, Content: "hello"})
		emit(orchestrator.Event{Type: orchestrator.EventResponse, Data: &orchestrator.ResponseData{Success: true}})
		return nil
	})

	recorder := httptest.NewRecorder()
	require.NoError(t, WriteSSE(recorder, worker))
	require.NoError(t, worker.Err())

	body := recorder.Body.String()
	require.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", recorder.Header().Get("Cache-Control"))

	thinkingIdx := strings.Index(body, "正在思考")
	replyIdx := strings.Index(body, "hello")
	responseIdx := strings.Index(body, `"type":"response"`)
	require.True(t, thinkingIdx < replyIdx)
	require.True(t, replyIdx < responseIdx)
}

func TestWriteSSE_StopsAtErrorEvent(t *testing.T) {
	worker := Run(context.Background(), func(_ context.Context, emit orchestrator.Emitter) error {
		emit(orchestrator.Event{Type: orchestrator.EventError, Message: "boom"})
		return nil
	})

	recorder := httptest.NewRecorder()
	require.NoError(t, WriteSSE(recorder, worker))
	require.Contains(t, recorder.Body.String(), "boom")
}

func TestRun_WorkerErrorSurfacedAfterDrain(t *testing.T) {
	worker := Run(context.Background(), func(_ context.Context, emit orchestrator.Emitter) error {
		emit(orchestrator.Event{Type: orchestrator.EventChatCallback, CallbackType: orchestrator.CallbackThinking, Content: "x"})
		return assertErr
	})

	recorder := httptest.NewRecorder()
	require.NoError(t, WriteSSE(recorder, worker))
	require.ErrorIs(t, worker.Err(), assertErr)
}

var assertErr = fmtError("boom")

type fmtError string

func (e fmtError) Error() string { return string(e) }
