package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	_ "embed"
)

//go:embed report-profile.schema.json
var schemaData []byte
var schema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(schemaData))); err != nil {
		panic(err)
	}
	var err error
	schema, err = compiler.Compile("schema.json")
	if err != nil {
		panic(err)
	}
}

// SSMAPI abstracts the SSM GetParameter operation for testability.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Profile overrides the report shape. Zero values mean "keep the default".
type Profile struct {
	ServiceTop         int      `json:"serviceTop"`
	AccountTop         int      `json:"accountTop"`
	ExcludeRecordTypes []string `json:"excludeRecordTypes"`
}

// Loader retrieves and caches JSON report profiles from SSM Parameter Store.
type Loader struct {
	client SSMAPI
	cache  map[string]*Profile
	mu     sync.Mutex
	log    *zap.SugaredLogger
}

// New creates a Loader using the provided SSM client and logger.
func New(client SSMAPI, log *zap.SugaredLogger) *Loader {
	return &Loader{client: client, cache: make(map[string]*Profile), log: log}
}

// Load fetches the profile with the given parameter name from SSM, validates
// it against the embedded schema and caches the result.
func (l *Loader) Load(ctx context.Context, name string) (*Profile, error) {
	l.mu.Lock()
	if p, ok := l.cache[name]; ok {
		l.mu.Unlock()
		return p, nil
	}
	l.mu.Unlock()

	out, err := l.client.GetParameter(ctx, &ssm.GetParameterInput{Name: &name})
	if err != nil {
		return nil, fmt.Errorf("get parameter %s: %w", name, err)
	}

	raw := []byte(*out.Parameter.Value)
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", name, err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", name, err)
	}

	p := &Profile{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = p
	l.mu.Unlock()
	l.log.Debugw("report profile loaded", "name", name)
	return p, nil
}
