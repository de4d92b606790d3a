package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacesync/pkg/models"
)

func samplePayload() models.PushPayload {
	return models.NewPushPayloadBuilder().
		WithMessageID("m1").
		WithSender("u1", "Ada").
		WithRecipient("user-1").
		WithKind(models.ContentAudioOnly).
		WithImage("https://cdn.example.com/avatar.jpg").
		WithMedia("https://cdn.example.com/clip.m4a").
		WithDuration(42).
		WithCreatedAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)).
		Build()
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "bool expression", expr: `contentKind == "Video"`},
		{name: "map membership", expr: `"video" in media`},
		{name: "syntax error", expr: `invalid syntax here!!!`, wantError: true},
		{name: "undefined variable", expr: `payload.status == "x"`, wantError: true},
		{name: "non bool result", expr: `durationSeconds + 1`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateFilterExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilter_Match(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		expr string
		want bool
	}{
		{`contentKind == "AudioOnly"`, true},
		{`contentKind == "Video"`, false},
		{`durationSeconds > 30 && "media" in media`, true},
		{`"video" in media`, false},
		{`createdAt > timestamp("2024-01-01T00:00:00Z")`, true},
		{`recipientId == "user-2"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := eval.CompileFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.Expression())

			got, err := f.Match(context.Background(), samplePayload())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterExpressionExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range FilterExpressionExamples {
		t.Run(name, func(t *testing.T) {
			f, err := eval.CompileFilter(expr)
			require.NoError(t, err)
			_, err = f.Match(context.Background(), samplePayload())
			assert.NoError(t, err)
		})
	}
}
