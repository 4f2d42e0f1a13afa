package transcribe

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	jobTimeout   = 2 * time.Minute
	patchTimeout = 10 * time.Second
)

// MessagePatcher applies a transcription patch through the mutation
// pipeline, so the patch goes through the same membership gate and change
// stream as any other message update.
type MessagePatcher interface {
	UpdateMessage(ctx context.Context, messageID, actingUserID string, patch model.MessagePatch) (*model.Message, error)
}

// Worker runs transcriptions asynchronously and patches the message when
// they finish.
type Worker struct {
	transcriber Transcriber
	patcher     MessagePatcher
	mediaDir    string
	logger      *logger.Logger
	timeout     time.Duration
}

// NewWorker creates a transcription worker.
func NewWorker(tr Transcriber, patcher MessagePatcher, mediaDir string, log *logger.Logger) *Worker {
	return &Worker{
		transcriber: tr,
		patcher:     patcher,
		mediaDir:    mediaDir,
		logger:      log,
		timeout:     jobTimeout,
	}
}

// Enabled reports whether a transcription provider is configured.
func (w *Worker) Enabled() bool {
	return w.transcriber != nil
}

// Enqueue marks the message as processing and starts the transcription in
// the background. The acting user is carried through so the completion
// patch is gated against their membership, same as the request itself.
func (w *Worker) Enqueue(ctx context.Context, messageID, actingUserID, mediaKey string) error {
	status := StatusProcessing
	if _, err := w.patcher.UpdateMessage(ctx, messageID, actingUserID, model.MessagePatch{
		TranscriptionStatus: &status,
	}); err != nil {
		return err
	}

	go w.run(messageID, actingUserID, mediaKey)
	return nil
}

func (w *Worker) run(messageID, actingUserID, mediaKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	result, err := w.transcriber.Transcribe(ctx, filepath.Join(w.mediaDir, mediaKey))
	if err != nil {
		w.logger.Error("transcription failed",
			zap.String("message_id", messageID),
			zap.String("provider", w.transcriber.Name()),
			zap.Error(err),
		)
		metrics.TranscriptionsTotal.WithLabelValues("error").Inc()
		w.patch(messageID, actingUserID, model.MessagePatch{
			TranscriptionStatus: strPtr(StatusFailed),
		})
		return
	}

	w.logger.Info("transcription completed",
		zap.String("message_id", messageID),
		zap.String("provider", w.transcriber.Name()),
		zap.Int64("latency_ms", result.LatencyMs),
	)
	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
	w.patch(messageID, actingUserID, model.MessagePatch{
		Transcription:       &result.Text,
		TranscriptionStatus: strPtr(StatusCompleted),
	})
}

// patch applies a status patch under its own context. The job context may
// already be done when we get here (a job can fail on its own deadline), and
// the status write has to land regardless.
func (w *Worker) patch(messageID, actingUserID string, patch model.MessagePatch) {
	ctx, cancel := context.WithTimeout(context.Background(), patchTimeout)
	defer cancel()

	if _, err := w.patcher.UpdateMessage(ctx, messageID, actingUserID, patch); err != nil {
		w.logger.Error("transcription result patch failed",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

func strPtr(s string) *string { return &s }
