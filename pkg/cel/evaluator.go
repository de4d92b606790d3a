package cel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"surfacesync/pkg/models"
)

// Evaluator compiles accept filters over push payloads.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("messageId", cel.StringType),
		cel.Variable("senderId", cel.StringType),
		cel.Variable("senderName", cel.StringType),
		cel.Variable("recipientId", cel.StringType),
		cel.Variable("contentKind", cel.StringType),
		cel.Variable("durationSeconds", cel.IntType),
		cel.Variable("caption", cel.StringType),
		cel.Variable("createdAt", cel.TimestampType),
		cel.Variable("sequence", cel.IntType),
		cel.Variable("media", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// Filter is a compiled accept expression.
type Filter struct {
	expression string
	program    cel.Program
}

func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) Expression() string {
	return f.expression
}

// Match reports whether p passes the filter.
func (f *Filter) Match(ctx context.Context, p models.PushPayload) (bool, error) {
	result, _, err := f.program.ContextEval(ctx, payloadVars(p))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func payloadVars(p models.PushPayload) map[string]interface{} {
	media := map[string]string{}
	if p.MediaRefs.ImageURL != "" {
		media["image"] = p.MediaRefs.ImageURL
	}
	if p.MediaRefs.MediaURL != "" {
		media["media"] = p.MediaRefs.MediaURL
	}
	if p.MediaRefs.VideoURL != "" {
		media["video"] = p.MediaRefs.VideoURL
	}

	return map[string]interface{}{
		"messageId":       p.MessageID,
		"senderId":        p.SenderID,
		"senderName":      p.SenderName,
		"recipientId":     p.RecipientID,
		"contentKind":     string(p.ContentKind),
		"durationSeconds": p.DurationSeconds,
		"caption":         p.CaptionPreview,
		"createdAt":       time.UnixMilli(p.CreatedAtMillis).UTC(),
		"sequence":        p.Sequence,
		"media":           media,
	}
}
