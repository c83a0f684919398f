package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Query is evaluated for every generation request. It must yield a set of
// deny reasons; an empty set admits the request.
//
//	package practiq.generate
//
//	deny contains msg if {
//		contains(lower(input.topic), "forbidden")
//		msg := "topic is not allowed"
//	}
const Query = "data.practiq.generate.deny"

// Admission checks generation requests against Rego policies
type Admission struct {
	query *rego.PreparedEvalQuery
}

// Load reads all .rego files in dir. It returns nil when dir is empty or
// holds no policy files; a nil *Admission admits everything.
func Load(ctx context.Context, dir string) (*Admission, error) {
	if dir == "" {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return nil, nil
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}

	return New(ctx, modules)
}

// New prepares the admission query from module name -> source
func New(ctx context.Context, modules map[string]string) (*Admission, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(Query))
	for name, src := range modules {
		options = append(options, rego.Module(name, src))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy query", goerr.V("query", Query))
	}

	return &Admission{query: &prepared}, nil
}

// Denial lists why a policy refused a request. It unwraps to
// model.ErrValidation.
type Denial struct {
	Reasons []string
}

func (d *Denial) Error() string {
	return "denied by policy: " + d.Message()
}

// Message joins the reasons for display
func (d *Denial) Message() string {
	return strings.Join(d.Reasons, "; ")
}

func (d *Denial) Unwrap() error {
	return model.ErrValidation
}

// Check returns an error wrapping *Denial when a policy denies req
func (a *Admission) Check(ctx context.Context, req *model.GenerationRequest) error {
	reasons, err := a.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	if len(reasons) == 0 {
		return nil
	}

	return goerr.Wrap(&Denial{Reasons: reasons}, "request denied by policy",
		goerr.V("topic", req.Topic))
}

// Evaluate returns the sorted deny reasons for req; none means admitted
func (a *Admission) Evaluate(ctx context.Context, req *model.GenerationRequest) ([]string, error) {
	if a == nil || a.query == nil {
		return nil, nil
	}

	input := map[string]any{
		"topic":           strings.TrimSpace(req.Topic),
		"expertise_level": req.Level().String(),
	}

	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate policy")
	}

	return denyReasons(rs), nil
}

func denyReasons(rs rego.ResultSet) []string {
	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				reasons = append(reasons, fmt.Sprint(v))
			}
		}
	}
	sort.Strings(reasons)
	return reasons
}
