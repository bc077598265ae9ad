package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bootforge/bootforge/pkg/engine"
	"github.com/bootforge/bootforge/pkg/telemetry"
)

// Loader parses profile files. Every source format is unified against the
// embedded CUE schema, so defaults and constraints apply uniformly whether
// the profile was written in CUE, YAML, or Starlark.
type Loader struct {
	cctx     *cue.Context
	schema   cue.Value
	validate *validator.Validate
	log      *telemetry.Logger
}

// NewLoader creates a loader with the embedded schema compiled.
func NewLoader(log *telemetry.Logger) (*Loader, error) {
	cctx := cuecontext.New()

	compiled := cctx.CompileString(profileSchema, cue.Filename("schema.cue"))
	if err := compiled.Err(); err != nil {
		return nil, engine.NewInternalError("embedded profile schema does not compile", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#Profile"))
	if !schema.Exists() {
		return nil, engine.NewInternalError("embedded profile schema has no #Profile definition", nil)
	}

	return &Loader{
		cctx:     cctx,
		schema:   schema,
		validate: validator.New(),
		log:      log.NewComponentLogger("profile"),
	}, nil
}

// Default returns the embedded profile.
func (l *Loader) Default() (*Profile, error) {
	doc := l.cctx.CompileString(defaultProfileSource, cue.Filename("embedded"))
	if err := doc.Err(); err != nil {
		return nil, engine.NewInternalError("embedded default profile does not compile", err)
	}
	return l.resolve(doc, "embedded")
}

// Load parses the profile file at path, dispatching on its extension:
// .cue, .yaml/.yml, or .star.
func (l *Loader) Load(ctx context.Context, path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError("could not read profile "+path, err).
			WithCode(engine.ErrCodeProfileInvalid)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.loadCUE(path, data)
	case ".yaml", ".yml":
		return l.loadYAML(path, data)
	case ".star":
		return l.loadStarlark(ctx, path, data)
	default:
		return nil, engine.NewValidationError(
			fmt.Sprintf("unsupported profile format %q, want .cue, .yaml or .star", filepath.Ext(path)), nil).
			WithCode(engine.ErrCodeBadArguments)
	}
}

func (l *Loader) loadCUE(path string, data []byte) (*Profile, error) {
	doc := l.cctx.CompileString(string(data), cue.Filename(path))
	if err := doc.Err(); err != nil {
		return nil, l.invalid(path, cueIssues(err))
	}
	return l.resolve(doc, path)
}

func (l *Loader) loadYAML(path string, data []byte) (*Profile, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, l.invalid(path, []Issue{{File: path, Message: err.Error()}})
	}

	doc := l.cctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return nil, l.invalid(path, cueIssues(err))
	}
	return l.resolve(doc, path)
}

func (l *Loader) loadStarlark(ctx context.Context, path string, data []byte) (*Profile, error) {
	raw, err := evalProfileScript(ctx, path, data)
	if err != nil {
		return nil, l.invalid(path, []Issue{{File: path, Message: err.Error()}})
	}

	doc := l.cctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return nil, l.invalid(path, cueIssues(err))
	}
	return l.resolve(doc, path)
}

// resolve unifies a document with the schema, applies defaults, decodes,
// and runs struct validation.
func (l *Loader) resolve(doc cue.Value, file string) (*Profile, error) {
	unified := l.schema.Unify(doc)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return nil, l.invalid(file, cueIssues(err))
	}

	var p Profile
	if err := unified.Decode(&p); err != nil {
		return nil, l.invalid(file, cueIssues(err))
	}

	if err := l.validate.Struct(&p); err != nil {
		return nil, l.invalid(file, validatorIssues(file, err))
	}

	l.log.Debugf("Loaded profile %q from %s", p.Name, file)
	return &p, nil
}

// invalid folds issues into one coded validation error. The issue list
// rides in the error details for forge validate to print.
func (l *Loader) invalid(file string, issues []Issue) error {
	if len(issues) == 0 {
		issues = []Issue{{File: file, Message: "invalid profile"}}
	}

	rendered := make([]string, len(issues))
	for i, issue := range issues {
		rendered[i] = issue.String()
	}

	message := "profile " + file + " invalid: " + issues[0].Message
	if len(issues) > 1 {
		message += fmt.Sprintf(" (and %d more)", len(issues)-1)
	}
	return engine.NewValidationError(message, nil).
		WithCode(engine.ErrCodeProfileInvalid).
		WithDetail("issues", rendered)
}

// cueIssues flattens a CUE error into positioned issues.
func cueIssues(err error) []Issue {
	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		issue := Issue{Message: e.Error()}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			issue.File = pos[0].Filename()
			issue.Line = pos[0].Line()
			issue.Column = pos[0].Column()
		}
		issues = append(issues, issue)
	}
	if len(issues) == 0 && err != nil {
		issues = []Issue{{Message: err.Error()}}
	}
	return issues
}

// validatorIssues flattens struct-tag violations into issues.
func validatorIssues(file string, err error) []Issue {
	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return []Issue{{File: file, Message: err.Error()}}
	}

	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, Issue{
			File:    file,
			Message: fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()),
		})
	}
	return issues
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

// ProfileIssues extracts the rendered issue list from a loader error, for
// callers that print each problem on its own line.
func ProfileIssues(err error) []string {
	var e *engine.EngineError
	if !engine.IsClass(err, engine.ErrorClassValidation) {
		return nil
	}
	e = engine.AsEngineError(err, engine.ErrorClassValidation)
	if e == nil || e.Details == nil {
		return nil
	}
	issues, _ := e.Details["issues"].([]string)
	return issues
}
