package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const internalTokenHeader = "X-Internal-Token"

var (
	idField      = Field{Name: "id", Prompt: "id", Type: FieldString, Required: true, In: InPath}
	problemField = Field{Name: "problem", Aliases: []string{"problem_id", "problemId"}, Prompt: "problem_id", Type: FieldString, Required: true}
	contestField = Field{Name: "contest", Aliases: []string{"contest_id", "contestId"}, Prompt: "contest_id", Type: FieldString, Key: "contestId"}
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "runner",
			Action:       "register",
			Method:       "POST",
			PathTemplate: "/api/v1/runner/register",
			Help:         "runner register token=<secret> name=r1 labels=cpp,ranker",
			Fields: []Field{
				{Name: "token", Prompt: "registration token", Type: FieldString, Required: true},
				{Name: "name", Prompt: "name", Type: FieldString, Required: true},
				{Name: "labels", Prompt: "labels (comma-separated)", Type: FieldStringList, Required: true},
				{Name: "version", Prompt: "version", Type: FieldString},
			},
		},
		{
			Service:      "solution",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/solutions",
			Auth:         AuthBearer,
			Help:         "solution create problem=p1 [contest=c1] [hash=...]",
			Fields: []Field{
				withKey(problemField, "problemId"),
				contestField,
				{Name: "hash", Aliases: []string{"data_hash"}, Prompt: "data hash", Type: FieldString, Key: "dataHash"},
			},
		},
		{
			Service:      "solution",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/solutions/:id",
			Auth:         AuthBearer,
			Fields:       []Field{idField},
		},
		{
			Service:      "solution",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/v1/solutions/:id/submit",
			Auth:         AuthBearer,
			Fields:       []Field{idField},
		},
		{
			Service:      "solution",
			Action:       "rejudge",
			Method:       "POST",
			PathTemplate: "/api/v1/solutions/:id/rejudge",
			Auth:         AuthBearer,
			Fields:       []Field{idField},
		},
		{
			Service:      "solution",
			Action:       "submit-all",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:problem/solutions/submit-all",
			Auth:         AuthBearer,
			Help:         "solution submit-all problem=p1 [contest=c1]",
			Fields:       []Field{inPath(problemField), inQuery(contestField)},
		},
		{
			Service:      "solution",
			Action:       "rejudge-all",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:problem/solutions/rejudge-all",
			Auth:         AuthBearer,
			Help:         "solution rejudge-all problem=p1 [contest=c1]",
			Fields:       []Field{inPath(problemField), inQuery(contestField)},
		},
		{
			Service:      "status",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/statuses",
			Auth:         AuthBearer,
		},
		{
			Service:      "instance",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/instances",
			Auth:         AuthBearer,
			Help:         "instance create problem=p1 [contest=c1] [slot=0]",
			Fields: []Field{
				withKey(problemField, "problemId"),
				contestField,
				{Name: "slot", Aliases: []string{"slot_no"}, Prompt: "slot", Type: FieldInt, Key: "slotNo"},
			},
		},
		{
			Service:      "instance",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/instances/:id",
			Auth:         AuthBearer,
			Fields:       []Field{idField},
		},
		{
			Service:      "instance",
			Action:       "destroy",
			Method:       "POST",
			PathTemplate: "/api/v1/instances/:id/destroy",
			Auth:         AuthBearer,
			Fields:       []Field{idField},
		},
		{
			Service:      "contest",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id",
			Auth:         AuthBearer,
			Fields:       []Field{idField},
		},
		{
			Service:      "contest",
			Action:       "stages",
			Method:       "PUT",
			PathTemplate: "/api/v1/contests/:id/stages",
			Auth:         AuthBearer,
			Help:         "contest stages id=c1 stages=@stages.json",
			Fields: []Field{
				idField,
				{Name: "stages", Prompt: "stages json (or @file)", Type: FieldJSON, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "invalidate",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/:id/ranklist/invalidate",
			Auth:         AuthBearer,
			Help:         "contest invalidate id=c1 [release=true]",
			Fields: []Field{
				idField,
				{Name: "release", Aliases: []string{"release_runner"}, Prompt: "release runner", Type: FieldBool, Key: "releaseRunner"},
			},
		},
		{
			Service:      "contest",
			Action:       "sweep",
			Method:       "POST",
			PathTemplate: "/internal/contests/status-sweep",
			Auth:         AuthInternal,
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name()] = cmd
	}
	return result
}

// Names lists command keys in a stable order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func withKey(f Field, key string) Field {
	f.Key = key
	return f
}

func inPath(f Field) Field {
	f.In = InPath
	return f
}

func inQuery(f Field) Field {
	f.In = InQuery
	return f
}

// BuildRequest resolves params into the HTTP request for cmd.
func BuildRequest(cmd Command, params Params, internalToken string) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)

	path := cmd.PathTemplate
	query := url.Values{}
	payload := map[string]any{}
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" {
			if field.Required {
				return RequestSpec{}, fmt.Errorf("missing parameter: %s", field.Name)
			}
			continue
		}
		switch field.In {
		case InPath:
			path = strings.ReplaceAll(path, ":"+field.Name, url.PathEscape(value))
		case InQuery:
			query.Set(field.key(), value)
		default:
			converted, err := convert(field, value)
			if err != nil {
				return RequestSpec{}, err
			}
			payload[field.key()] = converted
		}
	}
	if strings.Contains(path, "/:") {
		return RequestSpec{}, fmt.Errorf("unresolved path parameter in %s", path)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	headers := map[string]string{}
	if cmd.Auth == AuthInternal {
		if internalToken == "" {
			return RequestSpec{}, fmt.Errorf("internal token is not set (set internal-token <token>)")
		}
		headers[internalTokenHeader] = internalToken
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}
