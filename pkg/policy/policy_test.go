package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/policy"
)

const denyPolicy = `package practiq.generate

deny contains msg if {
	contains(lower(input.topic), "lockpicking")
	msg := "topic is not allowed"
}

deny contains msg if {
	input.expertise_level == "expert"
	count(input.topic) < 3
	msg := "expert topics must be descriptive"
}
`

func TestCheck(t *testing.T) {
	ctx := context.Background()
	adm, err := policy.New(ctx, map[string]string{"deny.rego": denyPolicy})
	gt.NoError(t, err)

	t.Run("allowed", func(t *testing.T) {
		gt.NoError(t, adm.Check(ctx, &model.GenerationRequest{Topic: "binary search trees"}))
	})

	t.Run("denied topic", func(t *testing.T) {
		err := adm.Check(ctx, &model.GenerationRequest{Topic: "Advanced Lockpicking"})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrValidation))
		gt.S(t, err.Error()).Contains("topic is not allowed")

		var denial *policy.Denial
		gt.True(t, errors.As(err, &denial))
		gt.Equal(t, denial.Message(), "topic is not allowed")
	})

	t.Run("denied by level", func(t *testing.T) {
		err := adm.Check(ctx, &model.GenerationRequest{Topic: "AI", ExpertiseLevel: model.LevelExpert})
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("expert topics must be descriptive")
	})

	t.Run("default level is used", func(t *testing.T) {
		gt.NoError(t, adm.Check(ctx, &model.GenerationRequest{Topic: "AI"}))
	})
}

func TestNilAdmissionAllowsAll(t *testing.T) {
	var adm *policy.Admission
	gt.NoError(t, adm.Check(context.Background(), &model.GenerationRequest{Topic: "anything"}))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("empty dir setting", func(t *testing.T) {
		adm, err := policy.Load(ctx, "")
		gt.NoError(t, err)
		gt.True(t, adm == nil)
	})

	t.Run("no rego files", func(t *testing.T) {
		adm, err := policy.Load(ctx, t.TempDir())
		gt.NoError(t, err)
		gt.True(t, adm == nil)
	})

	t.Run("rego files", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, "deny.rego"), []byte(denyPolicy), 0o600))

		adm, err := policy.Load(ctx, dir)
		gt.NoError(t, err)
		gt.True(t, adm != nil)
		gt.Error(t, adm.Check(ctx, &model.GenerationRequest{Topic: "lockpicking 101"}))
	})

	t.Run("invalid rego", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, "bad.rego"), []byte("package x\n deny {"), 0o600))

		_, err := policy.Load(ctx, dir)
		gt.Error(t, err)
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	adm, err := policy.New(ctx, map[string]string{"deny.rego": denyPolicy})
	gt.NoError(t, err)

	reasons, err := adm.Evaluate(ctx, &model.GenerationRequest{Topic: "LP", ExpertiseLevel: model.LevelExpert})
	gt.NoError(t, err)
	gt.A(t, reasons).Length(1)
	gt.Equal(t, reasons[0], "expert topics must be descriptive")

	reasons, err = adm.Evaluate(ctx, &model.GenerationRequest{Topic: "sorting algorithms"})
	gt.NoError(t, err)
	gt.A(t, reasons).Length(0)
}
